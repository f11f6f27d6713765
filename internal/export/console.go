// Package export implements downstream publish sinks for normalized
// packets: a console sink for debugging and a Kafka sink for shipping
// the decoded stream to other systems.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/packetlens/packetlens/internal/packet"
)

// ConsoleSink writes packets to stdout in human-readable or JSON form.
type ConsoleSink struct {
	format    string // "json" or "text"
	published atomic.Uint64
}

// NewConsoleSink creates a console sink. format must be "json" or
// "text"; empty defaults to "text".
func NewConsoleSink(format string) (*ConsoleSink, error) {
	switch format {
	case "":
		format = "text"
	case "json", "text":
	default:
		return nil, fmt.Errorf("invalid console format %q, must be json or text", format)
	}
	return &ConsoleSink{format: format}, nil
}

// Name implements the sink interface.
func (s *ConsoleSink) Name() string { return "console" }

// Publish writes each packet to stdout.
func (s *ConsoleSink) Publish(ctx context.Context, pkts []packet.Packet) error {
	for _, p := range pkts {
		s.published.Add(1)
		if s.format == "json" {
			data, err := json.Marshal(p)
			if err != nil {
				return fmt.Errorf("console sink: marshal: %w", err)
			}
			fmt.Fprintln(os.Stdout, string(data))
			continue
		}
		fmt.Fprintf(os.Stdout, "#%d %s %s cmd=%d %dB %s\n",
			p.SequenceIndex, p.Direction, p.Name, p.CommandID, p.ByteLength, p.PayloadText)
	}
	return nil
}

// Close logs the publish total.
func (s *ConsoleSink) Close() error {
	slog.Info("console sink stopped", "total_published", s.published.Load())
	return nil
}
