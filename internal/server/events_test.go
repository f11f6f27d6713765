package server

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/packetlens/packetlens/internal/packet"
)

func TestEventsHubStreamsPackets(t *testing.T) {
	hub := NewEventsHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Subscribing failed: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Expected event-stream content type, got %q", ct)
	}

	// Publish until the subscriber is registered and receives it.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		pkts := []packet.Packet{{SequenceIndex: 0, CommandID: 7, Name: "Ping", PayloadText: "{}"}}
		for {
			select {
			case <-stop:
				return
			case <-time.After(20 * time.Millisecond):
				_ = hub.Publish(context.Background(), pkts)
			}
		}
	}()

	sc := bufio.NewScanner(resp.Body)
	var event, data string
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "event: ") {
			event = strings.TrimPrefix(line, "event: ")
		}
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimPrefix(line, "data: ")
			break
		}
	}
	if event != "packet" {
		t.Errorf("Expected event name packet, got %q", event)
	}
	if !strings.Contains(data, `"name":"Ping"`) {
		t.Errorf("Expected packet JSON in data line, got %q", data)
	}
}

func TestEventsHubDropsForSlowSubscriber(t *testing.T) {
	hub := NewEventsHub()
	ch := hub.subscribe()
	defer hub.unsubscribe(ch)

	// Fill the buffer past capacity; Publish must never block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			_ = hub.Publish(context.Background(), []packet.Packet{{SequenceIndex: int64(i)}})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
}

func TestEventsHubUnsubscribeStopsDelivery(t *testing.T) {
	hub := NewEventsHub()
	ch := hub.subscribe()
	hub.unsubscribe(ch)

	_ = hub.Publish(context.Background(), []packet.Packet{{SequenceIndex: 0}})
	select {
	case pkts := <-ch:
		t.Errorf("Expected no delivery after unsubscribe, got %d packets", len(pkts))
	default:
	}
}
