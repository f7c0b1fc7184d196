// Package tap fans out post-transmission records to debug subscribers, so an
// operator can watch what the bridge puts on the wire without probing the
// lines.
package tap

import (
	"sync"
	"time"

	"github.com/embedded-linux/monitoring-bridge/internal/logging"
	"github.com/embedded-linux/monitoring-bridge/internal/metrics"
)

type BackpressurePolicy int

const (
	PolicyDrop BackpressurePolicy = iota
	PolicyKick
)

// Record describes one completed transmission.
type Record struct {
	Transport  string        `json:"transport"`
	PayloadLen int           `json:"payload_len"`
	TotalLen   int           `json:"total_len"`
	CRC        uint32        `json:"crc"`
	Duration   time.Duration `json:"duration_ns"`
	SentAt     time.Time     `json:"sent_at"`
}

type Subscriber struct {
	Out       chan Record
	Closed    chan struct{}
	closeOnce sync.Once
}

// Close signals the subscriber is closed (idempotent).
func (s *Subscriber) Close() {
	s.closeOnce.Do(func() {
		close(s.Closed)
	})
}

type Tap struct {
	mu         sync.RWMutex
	subs       map[*Subscriber]struct{}
	OutBufSize int
	Policy     BackpressurePolicy
}

// New creates a Tap with default settings.
func New() *Tap { return &Tap{subs: make(map[*Subscriber]struct{})} }

// Subscribe registers a new subscriber with the configured buffer size.
func (t *Tap) Subscribe() *Subscriber {
	buf := t.OutBufSize
	if buf <= 0 {
		buf = 64
	}
	s := &Subscriber{Out: make(chan Record, buf), Closed: make(chan struct{})}
	t.mu.Lock()
	t.subs[s] = struct{}{}
	cur := len(t.subs)
	t.mu.Unlock()
	metrics.SetTapSubs(cur)
	return s
}

// Remove unregisters a subscriber; safe to call multiple times.
func (t *Tap) Remove(s *Subscriber) {
	t.mu.Lock()
	_, existed := t.subs[s]
	if existed {
		delete(t.subs, s)
	}
	cur := len(t.subs)
	t.mu.Unlock()
	s.Close()
	metrics.SetTapSubs(cur)
	if existed && cur == 0 {
		logging.L().Debug("tap_last_subscriber_gone")
	}
}

// Count returns the number of attached subscribers.
func (t *Tap) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}

// Publish delivers rec to all subscribers honoring the backpressure policy:
// a full subscriber either loses the record (drop) or is detached (kick).
// Publish never blocks the transmit path.
func (t *Tap) Publish(rec Record) {
	t.mu.RLock()
	subs := make([]*Subscriber, 0, len(t.subs))
	for s := range t.subs {
		subs = append(subs, s)
	}
	t.mu.RUnlock()
	for _, s := range subs {
		select {
		case s.Out <- rec:
		default:
			switch t.Policy {
			case PolicyKick:
				metrics.IncTapKick()
				t.Remove(s)
			default:
				metrics.IncTapDrop()
			}
		}
	}
}
