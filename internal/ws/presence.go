package ws

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"walletchat/internal/presence"
)

// FriendSource resolves the friend list for an address. The identity
// repository satisfies it.
type FriendSource interface {
	Friends(ctx context.Context, address string) ([]string, error)
}

// PresenceBroadcaster turns tracker events into user_online/user_offline
// fan-out. A flip is delivered only to the subject's online friends, never
// to the whole connection table. Events are coalesced over a short window so
// a burst of flips costs one friend lookup per changed address, and an
// online-then-offline flap inside one window collapses to its final state.
type PresenceBroadcaster struct {
	hub     *Hub
	friends FriendSource
	window  time.Duration
	log     *zap.Logger

	mu      sync.Mutex
	pending map[string]presence.Event
	kick    chan struct{}
}

func NewPresenceBroadcaster(hub *Hub, friends FriendSource, window time.Duration, log *zap.Logger) *PresenceBroadcaster {
	if window <= 0 {
		window = 200 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &PresenceBroadcaster{
		hub:     hub,
		friends: friends,
		window:  window,
		log:     log,
		pending: make(map[string]presence.Event),
		kick:    make(chan struct{}, 1),
	}
}

// Enqueue is the tracker subscriber.
func (b *PresenceBroadcaster) Enqueue(e presence.Event) {
	b.mu.Lock()
	b.pending[e.Address] = e
	b.mu.Unlock()

	select {
	case b.kick <- struct{}{}:
	default:
	}
}

// Run flushes coalesced presence events until ctx is cancelled.
func (b *PresenceBroadcaster) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			b.flush(context.Background())
			return
		case <-b.kick:
			timer := time.NewTimer(b.window)
			select {
			case <-ctx.Done():
				timer.Stop()
				b.flush(context.Background())
				return
			case <-timer.C:
				b.flush(ctx)
			}
		}
	}
}

func (b *PresenceBroadcaster) flush(ctx context.Context) {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.pending
	b.pending = make(map[string]presence.Event)
	b.mu.Unlock()

	for _, e := range batch {
		typ := evtUserOnline
		if !e.Online {
			typ = evtUserOffline
		}
		friends, err := b.friends.Friends(ctx, e.Address)
		if err != nil {
			b.log.Warn("presence friend lookup failed",
				zap.String("address", e.Address),
				zap.Error(err))
			continue
		}
		payload := map[string]any{
			"type":    typ,
			"address": e.Address,
			"at":      e.At,
		}
		for _, friend := range friends {
			b.hub.SendToAddress(friend, payload)
		}
	}
}
