package provider

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/authkeeper/internal/models"
)

// Broadcaster fans auth events out to subscribed listeners. Listeners are called
// synchronously, in subscription order, without any lock held.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners []*subscription
}

type subscription struct {
	id       string
	listener Listener
	parent   *Broadcaster
	once     sync.Once
}

func (s *subscription) ID() string {
	return s.id
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.parent.remove(s)
	})
}

// Subscribe registers a listener.
func (b *Broadcaster) Subscribe(listener Listener) Subscription {
	sub := &subscription{
		id:       uuid.NewString(),
		listener: listener,
		parent:   b,
	}

	b.mu.Lock()
	b.listeners = append(b.listeners, sub)
	b.mu.Unlock()

	log.Debug().Str("subscription", sub.id).Msg("auth listener subscribed")

	return sub
}

// Emit calls every listener with the event.
func (b *Broadcaster) Emit(event models.Event, session *models.Session) {
	b.mu.RLock()
	listeners := make([]*subscription, len(b.listeners))
	copy(listeners, b.listeners)
	b.mu.RUnlock()

	log.Debug().
		Str("event", event.String()).
		Int("listeners", len(listeners)).
		Msg("emitting auth event")

	for _, sub := range listeners {
		sub.listener(event, session)
	}
}

// Len returns the number of subscribed listeners.
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

func (b *Broadcaster) remove(target *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.listeners {
		if sub == target {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			break
		}
	}

	log.Debug().Str("subscription", target.id).Msg("auth listener unsubscribed")
}
