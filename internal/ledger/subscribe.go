package ledger

import (
	"context"
	"sync"

	"github.com/joeycumines/go-longpoll"
)

const subscriberBuffer = 256

// subscribers fans out appended events to every live Subscribe channel.
type subscribers struct {
	mu   sync.Mutex
	next int
	subs map[int]chan Event
}

func newSubscribers() *subscribers {
	return &subscribers{subs: make(map[int]chan Event)}
}

func (s *subscribers) subscribe() (<-chan Event, func()) {
	s.mu.Lock()
	id := s.next
	s.next++
	ch := make(chan Event, subscriberBuffer)
	s.subs[id] = ch
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

func (s *subscribers) publish(evt Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// Buffer full: this subscriber must catch up via Ledger.Since.
			// Dropping here keeps Append from blocking on a slow consumer.
		}
	}
}

func (s *subscribers) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}

// PollBatch performs one long-poll style receive against a subscriber
// channel obtained from Subscribe, returning as many events as are
// available within cfg's constraints. It is the batched-delivery counterpart
// to Since's point-in-time catch-up read.
func PollBatch(ctx context.Context, ch <-chan Event, cfg *longpoll.ChannelConfig) ([]Event, error) {
	var out []Event
	err := longpoll.Channel(ctx, cfg, ch, func(evt Event) error {
		out = append(out, evt)
		return nil
	})
	return out, err
}
