// Package telemetry publishes access events and door-state transitions to
// an MQTT broker, per spec.md §6's telemetry external interface.
//
// Grounded on _examples/Hive13-HiveRFID/mqtt/mqtt.go: the same
// NewClientOptions/connect-retry-loop construction, generalized from a
// single sensor/badge topic pair into one publisher used by the core loop
// for every door and every access decision.
package telemetry

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"

	"doorcore/accessnode/accesslog"
)

// Config configures the MQTT connection and topic layout.
type Config struct {
	BrokerAddr string
	Username   string
	Password   string
	ClientID   string
	BoardName  string
}

// Publisher wraps an MQTT client and knows the node's topic layout:
//
//	<board>/door/<n>/access  - one retained-false message per decision
//	<board>/door/<n>/state   - relay level, published on every transition
//	<board>/status           - online/offline via MQTT's own will mechanism
type Publisher struct {
	client    MQTT.Client
	boardName string
}

// NewPublisher creates a Publisher and starts the same background
// connect-with-retry loop mqtt.NewClient used, so a broker that is down at
// boot does not block startup.
func NewPublisher(c Config) *Publisher {
	opts := MQTT.NewClientOptions()
	opts.AddBroker(c.BrokerAddr)
	opts.SetClientID(c.ClientID)
	opts.SetUsername(c.Username)
	opts.SetPassword(c.Password)
	opts.SetWill(c.BoardName+"/status", "offline", 1, true)
	opts.SetOnConnectHandler(func(client MQTT.Client) {
		log.Printf("telemetry: connected, publishing online status")
		client.Publish(c.BoardName+"/status", 1, true, "online")
	})
	opts.SetConnectionLostHandler(func(client MQTT.Client, err error) {
		log.Printf("telemetry: connection lost: %v", err)
	})
	opts.SetReconnectingHandler(func(client MQTT.Client, options *MQTT.ClientOptions) {
		log.Printf("telemetry: reconnecting")
	})
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(10 * time.Second)

	client := MQTT.NewClient(opts)
	go func() {
		for {
			token := client.Connect()
			if token.Wait() && token.Error() != nil {
				log.Printf("telemetry: unable to connect, %s", token.Error())
				<-time.After(10 * time.Second)
				continue
			}
			break
		}
	}()

	return &Publisher{client: client, boardName: c.BoardName}
}

// PublishAccessLog publishes one access decision. Errors are logged, not
// returned: telemetry is best-effort and must never block or fail the
// decision path (spec.md §4.5/§7).
func (p *Publisher) PublishAccessLog(e accesslog.Entry) {
	payload, err := json.Marshal(e)
	if err != nil {
		log.Printf("telemetry: marshal access log: %v", err)
		return
	}
	topic := fmt.Sprintf("%s/door/%d/access", p.boardName, e.Door)
	token := p.client.Publish(topic, 0, false, payload)
	go func() {
		if token.Wait() && token.Error() != nil {
			log.Printf("telemetry: publish %s: %v", topic, token.Error())
		}
	}()
}

// DoorState is the wire shape of a door-state transition message.
type DoorState struct {
	RelayOn bool `json:"relay_on"`
}

// PublishDoorState publishes a relay-level transition for one door.
func (p *Publisher) PublishDoorState(door int, relayOn bool) {
	payload, err := json.Marshal(DoorState{RelayOn: relayOn})
	if err != nil {
		log.Printf("telemetry: marshal door state: %v", err)
		return
	}
	topic := fmt.Sprintf("%s/door/%d/state", p.boardName, door)
	token := p.client.Publish(topic, 0, true, payload)
	go func() {
		if token.Wait() && token.Error() != nil {
			log.Printf("telemetry: publish %s: %v", topic, token.Error())
		}
	}()
}

// Close disconnects cleanly, publishing an offline status first.
func (p *Publisher) Close() {
	p.client.Publish(p.boardName+"/status", 1, true, "offline")
	p.client.Disconnect(250)
}
