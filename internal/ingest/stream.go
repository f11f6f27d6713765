package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/packetlens/packetlens/internal/capture"
	"github.com/packetlens/packetlens/internal/metrics"
	"github.com/packetlens/packetlens/internal/packet"
	"github.com/packetlens/packetlens/internal/pipeline"
)

// packetEvent is the named SSE event carrying one raw record.
const packetEvent = "packetNotify"

// Stream subscribes to the capture server's live event stream and
// appends normalized packets in arrival order. One consumer goroutine
// reads the stream, so envelope children always get indices
// immediately after their parent, before the next event is processed.
//
// A malformed single event is skipped; a transport-level failure is
// terminal — the subscription closes, the onClose callback surfaces the
// connection-lost condition, and there is no automatic reconnect.
type Stream struct {
	client  *capture.Client
	session *pipeline.Session
	onClose func(error)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	active atomic.Bool
}

// NewStream creates an unconnected stream adapter. onClose is invoked
// exactly once per subscription when it terminates; the error is nil
// for a caller-initiated cancel and a transport error otherwise.
func NewStream(client *capture.Client, session *pipeline.Session, onClose func(error)) *Stream {
	if onClose == nil {
		onClose = func(error) {}
	}
	return &Stream{client: client, session: session, onClose: onClose}
}

// Active reports whether a subscription is currently attached.
func (s *Stream) Active() bool {
	return s.active.Load()
}

// Start opens the subscription and begins consuming events. Fails if a
// subscription is already active.
func (s *Stream) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active.Load() {
		return fmt.Errorf("stream already active")
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	body, err := s.client.OpenStream(streamCtx)
	if err != nil {
		cancel()
		return err
	}

	s.cancel = cancel
	s.done = make(chan struct{})
	s.active.Store(true)
	metrics.StreamConnected.Set(1)
	slog.Info("live stream attached")

	go s.consume(streamCtx, body)
	return nil
}

// Cancel detaches the subscription. No further normalization happens
// and no further sequence indices are allocated once Cancel returns.
func (s *Stream) Cancel() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Stream) consume(ctx context.Context, body io.ReadCloser) {
	defer body.Close()
	defer close(s.done)

	err := readEvents(body, func(ev sseEvent) {
		if ctx.Err() != nil {
			return // cancelled: drop anything still buffered
		}
		if ev.Name != packetEvent {
			return
		}
		var rec packet.RawRecord
		if uerr := json.Unmarshal([]byte(ev.Data), &rec); uerr != nil {
			metrics.StreamEventsSkippedTotal.Inc()
			slog.Warn("malformed stream event skipped", "error", uerr)
			return
		}
		s.session.Normalize(ctx, rec, "stream")
	})

	s.active.Store(false)
	metrics.StreamConnected.Set(0)

	if ctx.Err() != nil {
		// Caller-initiated cancel.
		slog.Info("live stream detached")
		s.onClose(nil)
		return
	}
	if err == nil {
		// Server closed the stream cleanly; still connection-lost from
		// the dashboard's point of view.
		err = fmt.Errorf("%w: stream closed by server", packet.ErrTransport)
	} else {
		err = fmt.Errorf("%w: %v", packet.ErrTransport, err)
	}
	slog.Error("live stream lost", "error", err)
	s.onClose(err)
}
