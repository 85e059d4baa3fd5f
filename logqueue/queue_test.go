package logqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"doorcore/accessnode/accesslog"
)

func TestPushRespectsMaxLen(t *testing.T) {
	q := New()
	for i := 1; i <= MaxLen; i++ {
		q.Push(accesslog.Entry{Door: i}) // Door doubles as the entry's sequence number
	}
	assert.Equal(t, MaxLen, q.Len())

	q.Push(accesslog.Entry{Door: MaxLen + 1}) // entry 501 evicts entry 1
	assert.Equal(t, MaxLen, q.Len())
	assert.Equal(t, 2, q.Peek(1)[0].Door)
}

func TestDrainInOrderAfterDelivery(t *testing.T) {
	q := New()
	for i := 1; i <= 5; i++ {
		q.Push(accesslog.Entry{Door: i})
	}

	delivered := q.Peek(3)
	assert.Len(t, delivered, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{delivered[0].Door, delivered[1].Door, delivered[2].Door})

	q.Drop(3)
	assert.Equal(t, 2, q.Len())
	assert.Equal(t, 4, q.Peek(1)[0].Door)
}

func TestFiveQueuedDuringLinkDownThenFullyDrained(t *testing.T) {
	q := New()
	for i := 1; i <= 5; i++ {
		q.Push(accesslog.Entry{Door: i})
	}
	assert.Equal(t, 5, q.Len())

	q.Drop(5)
	assert.Equal(t, 0, q.Len())
}
