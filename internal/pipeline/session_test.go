package pipeline

import (
	"context"
	"encoding/base64"
	"strings"
	"sync"
	"testing"

	"github.com/packetlens/packetlens/internal/packet"
	"github.com/packetlens/packetlens/internal/schema"
)

const sessionSchema = `
// CmdId: 7
message Ping { int32 seq = 1; }

// CmdId: 9
message Pong { int32 seq = 1; }

// CmdId: 10
message CmdBundle { repeated BundleEntry cmds = 1; }

message BundleEntry {
  int32 cmd_id = 1;
  bytes body = 2;
}

// CmdId: 21
message EventFrame {
  string event_type = 1;
  bytes payload = 2;
}

message FireBoltEvent { int32 power = 1; }
`

func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg, err := schema.Build([]schema.Source{{Name: "session.proto", Text: sessionSchema}})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return reg
}

func encodeB64(t *testing.T, reg *schema.Registry, typeName, jsonText string) string {
	t.Helper()
	wire, err := reg.Encode(typeName, []byte(jsonText))
	if err != nil {
		t.Fatalf("Encode %s failed: %v", typeName, err)
	}
	return base64.StdEncoding.EncodeToString(wire)
}

type fakeSink struct {
	name string
	err  error

	mu  sync.Mutex
	got []packet.Packet
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) Publish(_ context.Context, pkts []packet.Packet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, pkts...)
	return f.err
}

func (f *fakeSink) packets() []packet.Packet {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]packet.Packet(nil), f.got...)
}

func TestNormalizeInlineJSONWithoutRegistry(t *testing.T) {
	s := NewSession(DefaultEnvelopeConfig())
	pkts := s.Normalize(context.Background(), packet.RawRecord{
		CommandID:  7,
		InlineData: `{"a":1}`,
		Direction:  packet.DirectionClient,
	}, "test")

	if len(pkts) != 1 {
		t.Fatalf("Expected 1 packet, got %d", len(pkts))
	}
	p := pkts[0]
	if p.SequenceIndex != 0 {
		t.Errorf("Expected index 0, got %d", p.SequenceIndex)
	}
	if p.Name != packet.UnknownName {
		t.Errorf("Expected name Unknown, got %q", p.Name)
	}
	if p.PayloadText != `{"a":1}` {
		t.Errorf("Expected inline payload verbatim, got %q", p.PayloadText)
	}
	if p.PayloadOrigin != packet.OriginInlineJSON {
		t.Errorf("Expected origin %s, got %s", packet.OriginInlineJSON, p.PayloadOrigin)
	}
}

func TestNormalizeInlineNonJSONIsQuoted(t *testing.T) {
	s := NewSession(DefaultEnvelopeConfig())
	pkts := s.Normalize(context.Background(), packet.RawRecord{
		CommandID:  1,
		InlineData: "not json",
	}, "test")

	if got := pkts[0].PayloadText; got != `"not json"` {
		t.Errorf("Expected quoted payload, got %q", got)
	}
}

func TestNormalizeDecodesBinaryPayload(t *testing.T) {
	reg := testRegistry(t)
	s := NewSession(DefaultEnvelopeConfig())
	s.SetRegistry(reg)

	pkts := s.Normalize(context.Background(), packet.RawRecord{
		CommandID:     7,
		BinaryPayload: encodeB64(t, reg, "Ping", `{"seq":42}`),
		Direction:     packet.DirectionServer,
	}, "test")

	if len(pkts) != 1 {
		t.Fatalf("Expected 1 packet, got %d", len(pkts))
	}
	p := pkts[0]
	if p.Name != "Ping" {
		t.Errorf("Expected name Ping, got %q", p.Name)
	}
	if p.PayloadOrigin != packet.OriginDecodedBinary {
		t.Errorf("Expected origin %s, got %s", packet.OriginDecodedBinary, p.PayloadOrigin)
	}
	if !strings.Contains(p.PayloadText, `"seq":42`) {
		t.Errorf("Expected decoded seq field, got %q", p.PayloadText)
	}
	if !p.Redecodable() {
		t.Error("Expected raw binary payload retained")
	}
}

func TestNormalizeSoftFailsOnMalformedBinary(t *testing.T) {
	reg := testRegistry(t)
	s := NewSession(DefaultEnvelopeConfig())
	s.SetRegistry(reg)

	// Field 1 wire type 2 with a length past the buffer.
	bad := base64.StdEncoding.EncodeToString([]byte{0x0a, 0xff})
	pkts := s.Normalize(context.Background(), packet.RawRecord{
		CommandID:     7,
		BinaryPayload: bad,
	}, "test")

	p := pkts[0]
	if p.Name != "Ping" {
		t.Errorf("Expected resolved name kept on decode failure, got %q", p.Name)
	}
	if p.PayloadText != "{}" {
		t.Errorf("Expected sentinel payload, got %q", p.PayloadText)
	}
	if p.PayloadOrigin != packet.OriginInlineJSON {
		t.Errorf("Expected inline origin after soft failure, got %s", p.PayloadOrigin)
	}
	if p.RawBinaryPayload != bad {
		t.Error("Expected raw payload retained for later redecode")
	}
}

func TestNormalizeExpandsEnvelope(t *testing.T) {
	reg := testRegistry(t)
	s := NewSession(DefaultEnvelopeConfig())
	s.SetRegistry(reg)

	bundle := `{"cmds":[` +
		`{"cmdId":7,"body":"` + encodeB64(t, reg, "Ping", `{"seq":1}`) + `"},` +
		`{"cmdId":9,"body":"` + encodeB64(t, reg, "Pong", `{"seq":2}`) + `"},` +
		`{"cmdId":99,"body":"` + base64.StdEncoding.EncodeToString([]byte{0x08, 0x01}) + `"}]}`

	pkts := s.Normalize(context.Background(), packet.RawRecord{
		CommandID:     10,
		BinaryPayload: encodeB64(t, reg, "CmdBundle", bundle),
	}, "test")

	if len(pkts) != 4 {
		t.Fatalf("Expected parent + 3 children, got %d packets", len(pkts))
	}
	for i, p := range pkts {
		if p.SequenceIndex != int64(i) {
			t.Errorf("Packet %d: expected contiguous index %d, got %d", i, i, p.SequenceIndex)
		}
	}
	if pkts[0].Name != "CmdBundle" {
		t.Errorf("Expected parent CmdBundle, got %q", pkts[0].Name)
	}
	if pkts[1].Name != "Ping" || pkts[2].Name != "Pong" {
		t.Errorf("Expected children Ping/Pong, got %q/%q", pkts[1].Name, pkts[2].Name)
	}
	if pkts[3].Name != packet.UnknownName || pkts[3].PayloadText != "{}" {
		t.Errorf("Expected unknown child placeholder, got %q %q", pkts[3].Name, pkts[3].PayloadText)
	}
	if pkts[3].CommandID != 99 {
		t.Errorf("Expected unknown child to keep its command id, got %d", pkts[3].CommandID)
	}
}

func TestNormalizeExpandsNestedEventFrame(t *testing.T) {
	reg := testRegistry(t)
	s := NewSession(DefaultEnvelopeConfig())
	s.SetRegistry(reg)

	frame := `{"eventType":"EVT_FIRE_BOLT","payload":"` + encodeB64(t, reg, "FireBoltEvent", `{"power":9}`) + `"}`
	bundle := `{"cmds":[{"cmdId":21,"body":"` + encodeB64(t, reg, "EventFrame", frame) + `"}]}`

	pkts := s.Normalize(context.Background(), packet.RawRecord{
		CommandID:     10,
		BinaryPayload: encodeB64(t, reg, "CmdBundle", bundle),
	}, "test")

	if len(pkts) != 3 {
		t.Fatalf("Expected parent + frame + nested event, got %d packets", len(pkts))
	}
	if pkts[1].Name != "EventFrame" {
		t.Errorf("Expected second packet EventFrame, got %q", pkts[1].Name)
	}
	nested := pkts[2]
	if nested.Name != "FireBoltEvent" {
		t.Errorf("Expected nested FireBoltEvent, got %q", nested.Name)
	}
	if !strings.Contains(nested.PayloadText, `"power":9`) {
		t.Errorf("Expected nested payload decoded, got %q", nested.PayloadText)
	}
}

func TestNormalizeSkipsUnmappedDiscriminator(t *testing.T) {
	reg := testRegistry(t)
	s := NewSession(DefaultEnvelopeConfig())
	s.SetRegistry(reg)

	frame := `{"eventType":"EVT_NOPE","payload":"` + base64.StdEncoding.EncodeToString([]byte{0x08, 0x01}) + `"}`
	bundle := `{"cmds":[{"cmdId":21,"body":"` + encodeB64(t, reg, "EventFrame", frame) + `"}]}`

	pkts := s.Normalize(context.Background(), packet.RawRecord{
		CommandID:     10,
		BinaryPayload: encodeB64(t, reg, "CmdBundle", bundle),
	}, "test")

	if len(pkts) != 2 {
		t.Fatalf("Expected no nested packet for unmapped discriminator, got %d packets", len(pkts))
	}
}

func TestNormalizeIdempotentShape(t *testing.T) {
	reg := testRegistry(t)
	s := NewSession(DefaultEnvelopeConfig())
	s.SetRegistry(reg)

	rec := packet.RawRecord{CommandID: 7, BinaryPayload: encodeB64(t, reg, "Ping", `{"seq":1}`)}
	a := s.Normalize(context.Background(), rec, "test")
	b := s.Normalize(context.Background(), rec, "test")

	if len(a) != len(b) {
		t.Fatalf("Expected same packet count, got %d vs %d", len(a), len(b))
	}
	if a[0].PayloadText != b[0].PayloadText || a[0].Name != b[0].Name {
		t.Error("Expected identical normalization for identical input")
	}
	if b[0].SequenceIndex != a[0].SequenceIndex+1 {
		t.Errorf("Expected fresh index %d, got %d", a[0].SequenceIndex+1, b[0].SequenceIndex)
	}
}

func TestRedecodeAfterRegistryUpload(t *testing.T) {
	reg := testRegistry(t)
	s := NewSession(DefaultEnvelopeConfig())

	// Ingest binary records before any schema exists.
	for i := 0; i < 5; i++ {
		s.Normalize(context.Background(), packet.RawRecord{
			CommandID:     7,
			BinaryPayload: encodeB64(t, reg, "Ping", `{"seq":1}`),
		}, "test")
	}
	for _, p := range s.Snapshot() {
		if p.Name != packet.UnknownName || p.PayloadText != "{}" {
			t.Fatalf("Expected undecoded placeholder before upload, got %q %q", p.Name, p.PayloadText)
		}
	}

	s.SetRegistry(reg)
	if updated := s.Redecode(); updated != 5 {
		t.Fatalf("Expected 5 packets redecoded, got %d", updated)
	}
	for i, p := range s.Snapshot() {
		if p.SequenceIndex != int64(i) {
			t.Errorf("Packet %d: index changed to %d", i, p.SequenceIndex)
		}
		if p.Name != "Ping" || p.PayloadOrigin != packet.OriginDecodedBinary {
			t.Errorf("Packet %d: expected decoded Ping, got %q %s", i, p.Name, p.PayloadOrigin)
		}
	}

	// A second pass finds nothing left to change.
	if updated := s.Redecode(); updated != 0 {
		t.Errorf("Expected idempotent redecode, got %d updates", updated)
	}
}

func TestImportReplacesCollectionCounterContinues(t *testing.T) {
	s := NewSession(DefaultEnvelopeConfig())
	s.Normalize(context.Background(), packet.RawRecord{CommandID: 1, InlineData: `{}`}, "test")

	pkts := s.Import(context.Background(), []packet.RawRecord{
		{CommandID: 2, InlineData: `{}`},
		{CommandID: 3, InlineData: `{}`},
	})

	if s.Len() != 2 {
		t.Errorf("Expected collection replaced with 2 packets, got %d", s.Len())
	}
	if pkts[0].SequenceIndex != 1 || pkts[1].SequenceIndex != 2 {
		t.Errorf("Expected indices to continue (1, 2), got (%d, %d)",
			pkts[0].SequenceIndex, pkts[1].SequenceIndex)
	}
}

func TestClearResetsCounter(t *testing.T) {
	s := NewSession(DefaultEnvelopeConfig())
	s.Normalize(context.Background(), packet.RawRecord{CommandID: 1, InlineData: `{}`}, "test")
	s.Clear()

	if s.Len() != 0 {
		t.Errorf("Expected empty collection, got %d", s.Len())
	}
	pkts := s.Normalize(context.Background(), packet.RawRecord{CommandID: 1, InlineData: `{}`}, "test")
	if pkts[0].SequenceIndex != 0 {
		t.Errorf("Expected index 0 after clear, got %d", pkts[0].SequenceIndex)
	}
}

func TestRestoreSeedsCounter(t *testing.T) {
	s := NewSession(DefaultEnvelopeConfig())
	s.Restore([]packet.Packet{
		{SequenceIndex: 3},
		{SequenceIndex: 41},
		{SequenceIndex: 12},
	})

	if s.Len() != 3 {
		t.Errorf("Expected 3 restored packets, got %d", s.Len())
	}
	pkts := s.Normalize(context.Background(), packet.RawRecord{CommandID: 1, InlineData: `{}`}, "test")
	if pkts[0].SequenceIndex != 42 {
		t.Errorf("Expected next index 42 after restore, got %d", pkts[0].SequenceIndex)
	}
}

func TestPublishFansOutInOrder(t *testing.T) {
	good := &fakeSink{name: "good"}
	bad := &fakeSink{name: "bad", err: context.DeadlineExceeded}
	s := NewSession(DefaultEnvelopeConfig(), bad, good)

	s.Normalize(context.Background(), packet.RawRecord{CommandID: 1, InlineData: `{"n":1}`}, "test")
	s.Normalize(context.Background(), packet.RawRecord{CommandID: 2, InlineData: `{"n":2}`}, "test")

	got := good.packets()
	if len(got) != 2 {
		t.Fatalf("Expected 2 packets at sink despite sibling error, got %d", len(got))
	}
	if got[0].SequenceIndex != 0 || got[1].SequenceIndex != 1 {
		t.Errorf("Expected publish in sequence order, got %d then %d",
			got[0].SequenceIndex, got[1].SequenceIndex)
	}
}
