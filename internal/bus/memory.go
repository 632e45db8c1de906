// SPDX-License-Identifier: MIT

package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/neurolab/neurolab/internal/log"
	"github.com/neurolab/neurolab/internal/metrics"
)

// MemoryBus is the in-process pub/sub implementation. Each subscriber owns a
// buffered channel; a full channel drops the message for that subscriber
// rather than blocking the publisher.
type MemoryBus struct {
	mu   sync.RWMutex
	subs map[string][]chan Message
}

const dropLogEvery = 100

var dropCount atomic.Uint64

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string][]chan Message)}
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "subscriber_full"
	}
}

func (b *MemoryBus) Publish(ctx context.Context, room string, msg Message) error {
	if ctx == nil {
		return fmt.Errorf("publish context is nil")
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("publish room %q: %w", room, err)
	}
	b.mu.RLock()
	chs := append([]chan Message(nil), b.subs[room]...)
	b.mu.RUnlock()

	for _, ch := range chs {
		select {
		case ch <- msg:
		default:
			reason := "subscriber_full"
			if err := ctx.Err(); err != nil {
				reason = dropReason(err)
			}
			metrics.IncBusDropReason(room, reason)
			count := dropCount.Add(1)
			if count%dropLogEvery == 0 {
				logger := log.L()
				logger.Warn().
					Str("room", room).
					Str("event", msg.Event).
					Str("reason", reason).
					Uint64("dropped", count).
					Msg("event bus dropped message for slow subscriber")
			}
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, room string) (Subscriber, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ch := make(chan Message, 64)

	b.mu.Lock()
	b.subs[room] = append(b.subs[room], ch)
	b.mu.Unlock()

	return &memSub{b: b, room: room, ch: ch}, nil
}

type memSub struct {
	b    *MemoryBus
	room string
	ch   chan Message
	once sync.Once
}

func (s *memSub) C() <-chan Message {
	return s.ch
}

func (s *memSub) Close() error {
	s.once.Do(func() {
		s.b.mu.Lock()
		defer s.b.mu.Unlock()

		lst := s.b.subs[s.room]
		out := lst[:0]
		for _, c := range lst {
			if c != s.ch {
				out = append(out, c)
			}
		}
		if len(out) == 0 {
			delete(s.b.subs, s.room)
		} else {
			s.b.subs[s.room] = out
		}
		close(s.ch)
	})
	return nil
}

var _ Bus = (*MemoryBus)(nil)
