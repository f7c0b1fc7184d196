package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embedded-linux/monitoring-bridge/internal/frame"
)

// slowTx tracks how many Sends overlap.
type slowTx struct {
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	delay    time.Duration
	sends    atomic.Int32
}

func (s *slowTx) Send(ctx context.Context, f frame.Frame) (int, error) {
	cur := s.inFlight.Add(1)
	for {
		max := s.maxSeen.Load()
		if cur <= max || s.maxSeen.CompareAndSwap(max, cur) {
			break
		}
	}
	time.Sleep(s.delay)
	s.inFlight.Add(-1)
	s.sends.Add(1)
	return f.TotalLen(), nil
}

func TestGateSerializes(t *testing.T) {
	tx := &slowTx{delay: 2 * time.Millisecond}
	g := NewGate(tx)
	f, err := frame.Build([]byte{1, 2, 3})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := g.Send(context.Background(), f)
			assert.NoError(t, err)
			assert.Equal(t, f.TotalLen(), n)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), tx.maxSeen.Load(), "transmissions interleaved")
	assert.Equal(t, int32(8), tx.sends.Load(), "blocked callers must all complete")
}

func TestGateSendNoWaitRejects(t *testing.T) {
	tx := &slowTx{delay: 50 * time.Millisecond}
	g := NewGate(tx)
	f, err := frame.Build([]byte{1})
	require.NoError(t, err)

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		close(started)
		_, _ = g.Send(context.Background(), f)
		close(done)
	}()
	<-started
	// Let the first Send take the gate.
	deadline := time.Now().Add(time.Second)
	for tx.inFlight.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first send never started")
		}
		time.Sleep(time.Millisecond)
	}
	_, err = g.SendNoWait(context.Background(), f)
	assert.ErrorIs(t, err, ErrBusy)
	<-done

	// Free gate: SendNoWait transmits.
	n, err := g.SendNoWait(context.Background(), f)
	assert.NoError(t, err)
	assert.Equal(t, f.TotalLen(), n)
}
