package proxy

import (
	"sync"

	"github.com/Eavina-s-org/webmock/internal/exchange"
)

// Recorder is the single-writer append log for completed exchanges. Many
// connection handlers feed one consumer goroutine through a channel, which
// makes sequence assignment a strict, gap-free total order in completion
// order without a lock on the hot path.
type Recorder struct {
	ch   chan exchange.Exchange
	done chan struct{}

	mu     sync.Mutex
	closed bool

	exchanges []exchange.Exchange
}

// NewRecorder starts the consumer goroutine.
func NewRecorder() *Recorder {
	r := &Recorder{
		ch:   make(chan exchange.Exchange, 128),
		done: make(chan struct{}),
	}
	go r.loop()
	return r
}

func (r *Recorder) loop() {
	defer close(r.done)
	for ex := range r.ch {
		ex.SequenceIndex = len(r.exchanges)
		r.exchanges = append(r.exchanges, ex)
	}
}

// Record appends one completed exchange. Returns false after Close, when
// partial work is discarded by policy.
func (r *Recorder) Record(ex exchange.Exchange) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.ch <- ex
	return true
}

// Close stops intake and waits for the consumer to drain. Exchanges is
// only valid after Close returns.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.done
		return
	}
	r.closed = true
	close(r.ch)
	r.mu.Unlock()
	<-r.done
}

// Exchanges returns the recorded log in sequence order. Call after Close.
func (r *Recorder) Exchanges() []exchange.Exchange {
	<-r.done
	out := make([]exchange.Exchange, len(r.exchanges))
	copy(out, r.exchanges)
	return out
}
