package pipeline

import (
	"context"
	"encoding/base64"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/packetlens/packetlens/internal/metrics"
	"github.com/packetlens/packetlens/internal/packet"
	"github.com/packetlens/packetlens/internal/schema"
)

// Sink receives normalized packets in publish order. Implementations
// must tolerate being called from the ingestion path; slow sinks should
// buffer internally.
type Sink interface {
	Name() string
	Publish(ctx context.Context, pkts []packet.Packet) error
}

// Session is the process-wide pipeline state: the current schema
// registry, the sequence counter, the in-memory packet collection and
// the downstream sinks. The registry is replaced wholesale by a single
// pointer swap; normalization is serialized so a parent and its
// envelope children always receive contiguous indices.
type Session struct {
	mu       sync.Mutex
	reg      atomic.Pointer[schema.Registry]
	seq      Sequence
	env      EnvelopeConfig
	packets  []packet.Packet
	sinks    []Sink
	throttle *gocache.Cache
}

// NewSession creates a session with an empty collection and no
// registry.
func NewSession(env EnvelopeConfig, sinks ...Sink) *Session {
	return &Session{
		env:      env,
		sinks:    sinks,
		throttle: gocache.New(30*time.Second, time.Minute),
	}
}

// AddSink registers an additional downstream sink. Used during wiring,
// before ingestion begins.
func (s *Session) AddSink(sink Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks = append(s.sinks, sink)
}

// SetRegistry swaps in a newly built registry. Readers see either the
// old or the new registry, never a partial one.
func (s *Session) SetRegistry(r *schema.Registry) {
	s.reg.Store(r)
}

// Registry returns the current registry, possibly nil before the first
// schema upload.
func (s *Session) Registry() *schema.Registry {
	return s.reg.Load()
}

// Sequence exposes the session's counter (read-only uses: peeking and
// test assertions).
func (s *Session) Sequence() *Sequence {
	return &s.seq
}

// Normalize converts one raw record into its canonical packets: the
// parent first, then any envelope children. It never fails; decode
// errors degrade to sentinel payloads. The returned packets are already
// appended to the collection and published to the sinks.
func (s *Session) Normalize(ctx context.Context, rec packet.RawRecord, source string) []packet.Packet {
	s.mu.Lock()
	pkts := s.normalizeLocked(rec)
	s.packets = append(s.packets, pkts...)
	s.mu.Unlock()

	metrics.PacketsIngestedTotal.WithLabelValues(source).Add(float64(len(pkts)))
	s.publish(ctx, pkts)
	return pkts
}

// normalizeLocked builds the packets without touching the collection.
// Callers hold s.mu so the allocated indices stay contiguous.
func (s *Session) normalizeLocked(rec packet.RawRecord) []packet.Packet {
	reg := s.reg.Load()
	res := s.decodePayload(reg, rec)

	byteLength := rec.ByteLength
	if byteLength == 0 {
		if len(res.RawBytes) > 0 {
			byteLength = len(res.RawBytes)
		} else {
			byteLength = len(rec.InlineData)
		}
	}

	parent := packet.Packet{
		SequenceIndex:    s.seq.Next(),
		CommandID:        rec.CommandID,
		Name:             res.Name,
		Direction:        rec.Direction,
		CaptureTimeMs:    rec.CaptureTimeMs,
		ByteLength:       byteLength,
		PayloadText:      res.PayloadText,
		PayloadOrigin:    res.Origin,
		RawBinaryPayload: rec.BinaryPayload,
	}
	pkts := []packet.Packet{parent}

	if res.Origin == packet.OriginDecodedBinary {
		now := time.Now().UnixMilli()
		for _, child := range unwrapEnvelope(reg, s.env, res.Name, res.Decoded) {
			pkts = append(pkts, packet.Packet{
				SequenceIndex:    s.seq.Next(),
				CommandID:        child.CmdID,
				Name:             child.Name,
				Direction:        rec.Direction,
				CaptureTimeMs:    now,
				ByteLength:       child.ByteLength,
				PayloadText:      child.PayloadText,
				PayloadOrigin:    child.Origin,
				RawBinaryPayload: base64.StdEncoding.EncodeToString(child.RawBody),
			})
			metrics.EnvelopeChildrenTotal.Inc()
		}
	}
	return pkts
}

// Import normalizes a finite batch of records in input order and
// replaces the collection with the result. The counter is not reset;
// indices continue monotonically across sources.
func (s *Session) Import(ctx context.Context, recs []packet.RawRecord) []packet.Packet {
	s.mu.Lock()
	all := make([]packet.Packet, 0, len(recs))
	for _, rec := range recs {
		all = append(all, s.normalizeLocked(rec)...)
	}
	s.packets = all
	s.mu.Unlock()

	metrics.PacketsIngestedTotal.WithLabelValues("batch").Add(float64(len(all)))
	s.publish(ctx, all)
	return all
}

// Restore loads previously persisted packets at startup and seeds the
// counter past the highest existing index.
func (s *Session) Restore(pkts []packet.Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packets = append([]packet.Packet(nil), pkts...)
	var max int64 = -1
	for _, p := range pkts {
		if p.SequenceIndex > max {
			max = p.SequenceIndex
		}
	}
	s.seq.Seed(max + 1)
}

// Clear drops the collection and resets the counter. This is the only
// operation that resets sequence indices.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packets = nil
	s.seq.Reset()
}

// Snapshot returns a copy of the current collection in sequence order.
func (s *Session) Snapshot() []packet.Packet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]packet.Packet(nil), s.packets...)
}

// Len returns the collection size.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.packets)
}

// Redecode re-runs the binary decode over every packet that still holds
// raw bytes, after a registry rebuild. Payload text and name are
// rewritten in place; sequence indices never change. Safe to re-run;
// returns the number of packets whose payload changed.
func (s *Session) Redecode() int {
	reg := s.reg.Load()
	if reg == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	updated := 0
	for i := range s.packets {
		p := &s.packets[i]
		if !p.Redecodable() {
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(p.RawBinaryPayload)
		if err != nil {
			continue
		}
		name, ok := reg.Lookup(p.CommandID)
		if !ok {
			// Fall back to a previously resolved name that still exists.
			if p.Name != packet.UnknownName && reg.Has(p.Name) {
				name = p.Name
			} else {
				continue
			}
		}
		decoded, err := reg.Decode(name, raw)
		if err != nil {
			continue
		}
		if p.PayloadText != string(decoded) || p.Name != name || p.PayloadOrigin != packet.OriginDecodedBinary {
			p.PayloadText = string(decoded)
			p.Name = name
			p.PayloadOrigin = packet.OriginDecodedBinary
			updated++
			metrics.RedecodedPacketsTotal.Inc()
		}
	}
	return updated
}

// publish fans packets out to the sinks in order. Sink errors are
// logged and counted, never propagated into the ingestion path.
func (s *Session) publish(ctx context.Context, pkts []packet.Packet) {
	if len(pkts) == 0 {
		return
	}
	s.mu.Lock()
	sinks := append([]Sink(nil), s.sinks...)
	s.mu.Unlock()
	for _, sink := range sinks {
		if err := sink.Publish(ctx, pkts); err != nil {
			metrics.SinkErrorsTotal.WithLabelValues(sink.Name()).Inc()
			slog.Error("sink publish failed", "sink", sink.Name(), "error", err)
		}
	}
}
