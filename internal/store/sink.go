package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/packetlens/packetlens/internal/packet"
)

// Sink adapts a PacketStore to the pipeline's sink interface with
// debounced, batched writes: live-stream publishes only mark the
// collection dirty, and a background flusher persists a fresh snapshot
// at most once per interval. Batch import and schema rebuild bypass the
// debounce by calling the store directly.
type Sink struct {
	store    PacketStore
	snapshot func() []packet.Packet
	interval time.Duration

	mu     sync.Mutex
	dirty  bool
	stop   chan struct{}
	doneWG sync.WaitGroup
}

// NewSink creates a debounced store sink. snapshot must return the full
// current collection; it is invoked from the flusher goroutine.
func NewSink(store PacketStore, snapshot func() []packet.Packet, interval time.Duration) *Sink {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	s := &Sink{
		store:    store,
		snapshot: snapshot,
		interval: interval,
		stop:     make(chan struct{}),
	}
	s.doneWG.Add(1)
	go s.run()
	return s
}

// Name implements pipeline.Sink.
func (s *Sink) Name() string { return "store" }

// Publish marks the persisted collection stale. Fire-and-forget: the
// actual write happens on the flusher goroutine.
func (s *Sink) Publish(ctx context.Context, pkts []packet.Packet) error {
	s.mu.Lock()
	s.dirty = true
	s.mu.Unlock()
	return nil
}

// Close flushes any pending write and stops the flusher.
func (s *Sink) Close() error {
	close(s.stop)
	s.doneWG.Wait()
	s.flush()
	return nil
}

func (s *Sink) run() {
	defer s.doneWG.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.flush()
		case <-s.stop:
			return
		}
	}
}

func (s *Sink) flush() {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return
	}
	s.dirty = false
	s.mu.Unlock()

	if err := s.store.SaveAll(s.snapshot()); err != nil {
		slog.Error("debounced packet save failed", "error", err)
	}
}
