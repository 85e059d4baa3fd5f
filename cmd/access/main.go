package main

// Commandline for the two-door access-control node. This turns arguments
// into a configuration and wires every component together, but holds no
// decision logic itself — that all lives in package core.

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/stianeikeland/go-rpio/v4"
	"github.com/warthog618/gpiod"

	"doorcore/accessnode/api"
	"doorcore/accessnode/controller"
	"doorcore/accessnode/core"
	"doorcore/accessnode/db"
	"doorcore/accessnode/doorctl"
	"doorcore/accessnode/sensor"
	"doorcore/accessnode/telemetry"
)

// doorPins is one door's full pin assignment, the per-door analogue of
// access.Config's flat PinD0/PinD1/PinBeeper/PinLED/PinLock fields.
type doorPins struct {
	D0, D1 int
	Beeper int
	LED    int
	Relay  int
	Rex    int
}

// Config holds every flag this node accepts.
type Config struct {
	GPIOChip string

	Door1Pins doorPins
	Door2Pins doorPins
	Door1Name string
	Door2Name string

	MomentaryUnlockMs1 int64
	MomentaryUnlockMs2 int64

	ControllerURL string
	BoardName     string

	MQTTBroker   string
	MQTTUsername string
	MQTTPassword string
	MQTTClientID string

	ListenAddr string
	Verbose    bool
}

var cfg Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

var rootCmd = &cobra.Command{
	Use:   "access",
	Short: "Run the two-door access-control node",
	Run: func(_ *cobra.Command, args []string) {
		if cfg.Verbose {
			log.Printf("config: %+v", cfg)
		}
		run(&cfg)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfg.GPIOChip, "gpio-chip", "gpiochip0",
		"gpiod chip name for Wiegand D0/D1 edge capture")

	rootCmd.PersistentFlags().IntVar(&cfg.Door1Pins.D0, "door1-d0", 17, "door 1 Wiegand D0 BCM pin")
	rootCmd.PersistentFlags().IntVar(&cfg.Door1Pins.D1, "door1-d1", 18, "door 1 Wiegand D1 BCM pin")
	rootCmd.PersistentFlags().IntVar(&cfg.Door1Pins.Beeper, "door1-beeper", 26, "door 1 reader beeper BCM pin")
	rootCmd.PersistentFlags().IntVar(&cfg.Door1Pins.LED, "door1-led", 16, "door 1 reader LED BCM pin")
	rootCmd.PersistentFlags().IntVar(&cfg.Door1Pins.Relay, "door1-relay", 20, "door 1 lock relay BCM pin")
	rootCmd.PersistentFlags().IntVar(&cfg.Door1Pins.Rex, "door1-rex", 21, "door 1 REX pushbutton BCM pin")
	rootCmd.PersistentFlags().StringVar(&cfg.Door1Name, "door1-name", "Front Door", "door 1 display name")
	rootCmd.PersistentFlags().Int64Var(&cfg.MomentaryUnlockMs1, "door1-unlock-ms", 5000,
		"door 1 momentary unlock duration in milliseconds")

	rootCmd.PersistentFlags().IntVar(&cfg.Door2Pins.D0, "door2-d0", 22, "door 2 Wiegand D0 BCM pin")
	rootCmd.PersistentFlags().IntVar(&cfg.Door2Pins.D1, "door2-d1", 23, "door 2 Wiegand D1 BCM pin")
	rootCmd.PersistentFlags().IntVar(&cfg.Door2Pins.Beeper, "door2-beeper", 24, "door 2 reader beeper BCM pin")
	rootCmd.PersistentFlags().IntVar(&cfg.Door2Pins.LED, "door2-led", 25, "door 2 reader LED BCM pin")
	rootCmd.PersistentFlags().IntVar(&cfg.Door2Pins.Relay, "door2-relay", 27, "door 2 lock relay BCM pin")
	rootCmd.PersistentFlags().IntVar(&cfg.Door2Pins.Rex, "door2-rex", 5, "door 2 REX pushbutton BCM pin")
	rootCmd.PersistentFlags().StringVar(&cfg.Door2Name, "door2-name", "Back Door", "door 2 display name")
	rootCmd.PersistentFlags().Int64Var(&cfg.MomentaryUnlockMs2, "door2-unlock-ms", 5000,
		"door 2 momentary unlock duration in milliseconds")

	rootCmd.PersistentFlags().StringVar(&cfg.ControllerURL, "controller-url", "",
		"base URL of the upstream controller (empty disables sync/log delivery)")
	rootCmd.PersistentFlags().StringVar(&cfg.BoardName, "board-name", "",
		"this node's board name (required)")
	rootCmd.MarkPersistentFlagRequired("board-name")

	rootCmd.PersistentFlags().StringVar(&cfg.MQTTBroker, "mqtt-broker", "",
		"MQTT broker address, e.g. tcp://broker:1883 (empty disables telemetry)")
	rootCmd.PersistentFlags().StringVar(&cfg.MQTTUsername, "mqtt-username", "", "MQTT username")
	rootCmd.PersistentFlags().StringVar(&cfg.MQTTPassword, "mqtt-password", "", "MQTT password")
	rootCmd.PersistentFlags().StringVar(&cfg.MQTTClientID, "mqtt-client-id", "", "MQTT client ID")

	rootCmd.PersistentFlags().StringVar(&cfg.ListenAddr, "addr", ":9000",
		"address for the admin/sync HTTP server to listen on")

	rootCmd.PersistentFlags().BoolVarP(&cfg.Verbose, "verbose", "v", false, "enable more verbose logging")
}

func run(cfg *Config) {
	if err := rpio.Open(); err != nil {
		log.Fatal(err)
	}
	defer rpio.Close()

	door1 := buildDoor(1, cfg.Door1Name, cfg.Door1Pins, cfg.MomentaryUnlockMs1)
	door2 := buildDoor(2, cfg.Door2Name, cfg.Door2Pins, cfg.MomentaryUnlockMs2)
	door1.Open()
	door2.Open()
	defer door1.Close()
	defer door2.Close()

	chip, err := gpiod.NewChip(cfg.GPIOChip)
	if err != nil {
		log.Fatalf("opening gpio chip %s: %v", cfg.GPIOChip, err)
	}
	defer chip.Close()

	clock := core.NewClock()
	requests := make(chan api.Request)
	rex := map[int]<-chan bool{
		1: sensor.ListenRex(rpio.Pin(cfg.Door1Pins.Rex)),
		2: sensor.ListenRex(rpio.Pin(cfg.Door2Pins.Rex)),
	}

	state := core.New(clock, cfg.BoardName, map[int]*doorctl.Door{1: door1, 2: door2}, rex, requests)
	state.DB.SetDoorConfig(1, db.DoorConfig{Name: cfg.Door1Name, MomentaryUnlockMs: cfg.MomentaryUnlockMs1})
	state.DB.SetDoorConfig(2, db.DoorConfig{Name: cfg.Door2Name, MomentaryUnlockMs: cfg.MomentaryUnlockMs2})

	if err := state.Wiegand.Watch(chip, 1, cfg.Door1Pins.D0, cfg.Door1Pins.D1); err != nil {
		log.Fatalf("door 1 wiegand: %v", err)
	}
	if err := state.Wiegand.Watch(chip, 2, cfg.Door2Pins.D0, cfg.Door2Pins.D1); err != nil {
		log.Fatalf("door 2 wiegand: %v", err)
	}

	if cfg.ControllerURL != "" {
		session := controller.NewSession(cfg.ControllerURL)
		session.Verbose = cfg.Verbose
		state.Controller = session
		if err := session.Announce(controller.AnnounceRequest{
			BoardName: cfg.BoardName,
			Door1Name: cfg.Door1Name,
			Door2Name: cfg.Door2Name,
		}); err != nil {
			log.Printf("controller announce failed: %v", err)
		}
	}

	if cfg.MQTTBroker != "" {
		pub := telemetry.NewPublisher(telemetry.Config{
			BrokerAddr: cfg.MQTTBroker,
			Username:   cfg.MQTTUsername,
			Password:   cfg.MQTTPassword,
			ClientID:   cfg.MQTTClientID,
			BoardName:  cfg.BoardName,
		})
		defer pub.Close()
		state.Telemetry = pub
	}

	mux := http.NewServeMux()
	api.New(requests).Register(mux)
	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  20 * time.Second,
		WriteTimeout: 20 * time.Second,
	}
	go func() {
		log.Printf("starting admin HTTP server on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	stop := make(chan struct{})
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Printf("shutting down")
		close(stop)
	}()

	state.Run(stop)
}

func buildDoor(number int, name string, pins doorPins, momentaryMs int64) *doorctl.Door {
	relay := rpio.Pin(pins.Relay)
	beeper := rpio.Pin(pins.Beeper)
	led := rpio.Pin(pins.LED)
	relay.Output()
	beeper.Output()
	led.Output()

	return doorctl.New(number, name, doorctl.Pins{
		Relay:  relay,
		Beeper: beeper,
		LED:    led,
	}, momentaryMs)
}
