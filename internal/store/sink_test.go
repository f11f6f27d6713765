package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/packetlens/packetlens/internal/packet"
)

type recordingStore struct {
	mu    sync.Mutex
	saves [][]packet.Packet
}

func (r *recordingStore) SaveAll(pkts []packet.Packet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves = append(r.saves, append([]packet.Packet(nil), pkts...))
	return nil
}

func (r *recordingStore) Load() ([]packet.Packet, error) { return nil, nil }

func (r *recordingStore) Clear() error { return nil }

func (r *recordingStore) Quota() (int64, int64, error) { return 0, 0, nil }

func (r *recordingStore) saveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.saves)
}

func TestSinkDebouncesWrites(t *testing.T) {
	rec := &recordingStore{}
	collection := []packet.Packet{{SequenceIndex: 0}, {SequenceIndex: 1}}
	sink := NewSink(rec, func() []packet.Packet { return collection }, 20*time.Millisecond)
	defer sink.Close()

	// Many publishes inside one interval collapse into one save.
	for i := 0; i < 10; i++ {
		if err := sink.Publish(context.Background(), collection); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for rec.saveCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := rec.saveCount(); n != 1 {
		t.Errorf("Expected exactly 1 debounced save, got %d", n)
	}
	rec.mu.Lock()
	saved := rec.saves[0]
	rec.mu.Unlock()
	if len(saved) != 2 {
		t.Errorf("Expected full snapshot persisted, got %d packets", len(saved))
	}
}

func TestSinkCleanWhenIdle(t *testing.T) {
	rec := &recordingStore{}
	sink := NewSink(rec, func() []packet.Packet { return nil }, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	sink.Close()

	if n := rec.saveCount(); n != 0 {
		t.Errorf("Expected no saves without publishes, got %d", n)
	}
}

func TestSinkCloseFlushesPendingWrite(t *testing.T) {
	rec := &recordingStore{}
	// Long interval so only Close can trigger the save.
	sink := NewSink(rec, func() []packet.Packet { return []packet.Packet{{SequenceIndex: 7}} }, time.Hour)

	if err := sink.Publish(context.Background(), nil); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if n := rec.saveCount(); n != 1 {
		t.Fatalf("Expected close to flush the pending write, got %d saves", n)
	}
}
