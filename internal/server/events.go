package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/packetlens/packetlens/internal/packet"
)

// EventsHub fans normalized packets out to connected browsers over
// Server-Sent Events. It implements the pipeline sink interface; a slow
// browser drops events rather than stalling ingestion.
type EventsHub struct {
	mu   sync.Mutex
	subs map[chan []packet.Packet]struct{}
}

// NewEventsHub creates an empty hub.
func NewEventsHub() *EventsHub {
	return &EventsHub{subs: make(map[chan []packet.Packet]struct{})}
}

// Name implements pipeline.Sink.
func (h *EventsHub) Name() string { return "events" }

// Publish delivers packets to every subscriber without blocking.
func (h *EventsHub) Publish(ctx context.Context, pkts []packet.Packet) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- pkts:
		default: // subscriber is behind, drop
		}
	}
	return nil
}

func (h *EventsHub) subscribe() chan []packet.Packet {
	ch := make(chan []packet.Packet, 64)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *EventsHub) unsubscribe(ch chan []packet.Packet) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}

// ServeHTTP streams packet events to one browser until it disconnects.
func (h *EventsHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	ch := h.subscribe()
	defer h.unsubscribe(ch)

	for {
		select {
		case <-r.Context().Done():
			return
		case pkts := <-ch:
			for _, p := range pkts {
				data, err := json.Marshal(p)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "event: packet\ndata: %s\n\n", data)
			}
			flusher.Flush()
		}
	}
}
