package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/packetlens/packetlens/internal/packet"
)

func TestClientStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/status" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"running":true}`)
	}))
	defer srv.Close()

	running, err := NewClient(srv.URL, time.Second).Status(context.Background())
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if !running {
		t.Error("Expected running=true")
	}
}

func TestClientStartStopPaths(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if len(paths) != 2 || paths[0] != "/api/start" || paths[1] != "/api/stop" {
		t.Errorf("Unexpected control paths: %v", paths)
	}
}

func TestClientErrorStatusWrapsTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewClient(srv.URL, time.Second).Start(context.Background())
	if !errors.Is(err, packet.ErrTransport) {
		t.Errorf("Expected ErrTransport, got %v", err)
	}
}

func TestClientUnreachableServer(t *testing.T) {
	// Nothing listens here.
	c := NewClient("http://127.0.0.1:1", 200*time.Millisecond)
	if err := c.Start(context.Background()); !errors.Is(err, packet.ErrTransport) {
		t.Errorf("Expected ErrTransport for unreachable server, got %v", err)
	}
}

func TestClientOpenStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "text/event-stream" {
			http.Error(w, "expected event-stream accept header", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: packetNotify\ndata: {}\n\n")
	}))
	defer srv.Close()

	body, err := NewClient(srv.URL, time.Second).OpenStream(context.Background())
	if err != nil {
		t.Fatalf("OpenStream failed: %v", err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("Reading stream failed: %v", err)
	}
	if string(data) != "event: packetNotify\ndata: {}\n\n" {
		t.Errorf("Unexpected stream body: %q", data)
	}
}

func TestClientUploadSendsMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/upload" || r.Method != http.MethodPost {
			http.Error(w, "wrong route", http.StatusNotFound)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if header.Filename != "cap.pcap" || string(data) != "payload" {
			http.Error(w, "unexpected upload", http.StatusBadRequest)
			return
		}
	}))
	defer srv.Close()

	err := NewClient(srv.URL, time.Second).Upload(context.Background(), "cap.pcap", []byte("payload"))
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
}

func TestClientUploadServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "disk full", http.StatusInsufficientStorage)
	}))
	defer srv.Close()

	err := NewClient(srv.URL, time.Second).Upload(context.Background(), "cap.pcap", []byte("payload"))
	if err == nil {
		t.Fatal("Expected upload error")
	}
}
