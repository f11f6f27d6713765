package ingest

import (
	"bytes"
	"context"
	"fmt"

	"github.com/google/gopacket/pcapgo"

	"github.com/packetlens/packetlens/internal/capture"
	"github.com/packetlens/packetlens/internal/packet"
)

// Replay forwards a capture file to the capture server for server-side
// replay. Nothing is decoded locally; the server re-emits the capture's
// packets through the live stream, so an active stream subscription is
// a hard precondition — without one the replayed packets would be lost
// silently.
func Replay(ctx context.Context, stream *Stream, client *capture.Client, filename string, data []byte) error {
	if !stream.Active() {
		return fmt.Errorf("%w: start live monitoring before uploading a capture file", packet.ErrPrecondition)
	}
	if err := validateCapture(data); err != nil {
		return err
	}
	return client.Upload(ctx, filename, data)
}

// validateCapture rejects files that are not pcap or pcapng before they
// are forwarded, so the user gets an immediate error instead of a
// silent empty replay.
func validateCapture(data []byte) error {
	if _, err := pcapgo.NewReader(bytes.NewReader(data)); err == nil {
		return nil
	}
	if _, err := pcapgo.NewNgReader(bytes.NewReader(data), pcapgo.DefaultNgReaderOptions); err == nil {
		return nil
	}
	return fmt.Errorf("%w: not a pcap or pcapng capture file", packet.ErrImportValidation)
}
