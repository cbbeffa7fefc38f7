package presence_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"walletchat/internal/presence"
)

const addr = "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"

func TestBindUnbind(t *testing.T) {
	tr := presence.NewTracker()
	now := time.Now()

	assert.False(t, tr.IsOnline(addr))

	wentOnline := tr.Bind(addr, "h1", now)
	assert.True(t, wentOnline)
	assert.True(t, tr.IsOnline(addr))

	h, ok := tr.ActiveHandle(addr)
	assert.True(t, ok)
	assert.Equal(t, "h1", h)

	wentOffline := tr.Unbind(addr, "h1", now)
	assert.True(t, wentOffline)
	assert.False(t, tr.IsOnline(addr))
}

func TestSupersede(t *testing.T) {
	tr := presence.NewTracker()
	now := time.Now()

	tr.Bind(addr, "h1", now)
	wentOnline := tr.Bind(addr, "h2", now)
	assert.False(t, wentOnline, "superseding bind is not a fresh online transition")

	h, _ := tr.ActiveHandle(addr)
	assert.Equal(t, "h2", h)
}

func TestStaleUnbindIgnored(t *testing.T) {
	tr := presence.NewTracker()
	now := time.Now()

	tr.Bind(addr, "h1", now)
	tr.Bind(addr, "h2", now)

	// The superseded connection disconnects late; the address must stay
	// online under the newer handle.
	wentOffline := tr.Unbind(addr, "h1", now)
	assert.False(t, wentOffline)
	assert.True(t, tr.IsOnline(addr))

	wentOffline = tr.Unbind(addr, "h2", now)
	assert.True(t, wentOffline)
	assert.False(t, tr.IsOnline(addr))
}

func TestSubscriberEvents(t *testing.T) {
	tr := presence.NewTracker()
	now := time.Now()

	var events []presence.Event
	tr.Subscribe(func(e presence.Event) {
		events = append(events, e)
	})

	tr.Bind(addr, "h1", now)
	tr.Bind(addr, "h2", now) // supersede, no event
	tr.Unbind(addr, "h1", now)
	tr.Unbind(addr, "h2", now)

	if assert.Len(t, events, 2) {
		assert.True(t, events[0].Online)
		assert.False(t, events[1].Online)
	}
}

func TestOnlineSnapshot(t *testing.T) {
	tr := presence.NewTracker()
	now := time.Now()

	other := "0xfb6916095ca1df60bb79ce92ce3ea74c37c5d359"
	tr.Bind(addr, "h1", now)
	tr.Bind(other, "h2", now)

	online := tr.Online()
	assert.ElementsMatch(t, []string{addr, other}, online)
}
