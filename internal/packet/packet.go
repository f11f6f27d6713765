// Package packet defines core data structures with zero external dependencies.
package packet

// Direction indicates which side of the connection emitted a packet.
type Direction string

const (
	DirectionClient Direction = "CLIENT"
	DirectionServer Direction = "SERVER"
)

// PayloadOrigin records how a packet's payload text was produced.
type PayloadOrigin string

const (
	// OriginDecodedBinary means payloadText came from a schema-based
	// decode of the binary payload.
	OriginDecodedBinary PayloadOrigin = "DECODED_BINARY"
	// OriginInlineJSON means payloadText came from inline data (or a
	// sentinel when no payload was usable).
	OriginInlineJSON PayloadOrigin = "INLINE_JSON"
)

// UnknownName is the resolved name used when no schema name resolves
// for a command id.
const UnknownName = "Unknown"

// RawRecord is one inbound record as produced by the capture server,
// a batch export file, or a replayed capture. It is the union of the
// shapes all three ingestion sources emit.
type RawRecord struct {
	CommandID      int       `json:"commandId"`
	SchemaTypeName string    `json:"schemaTypeName,omitempty"` // optional decoding hint
	InlineData     string    `json:"inlineData,omitempty"`     // JSON text payload
	BinaryPayload  string    `json:"binaryPayload,omitempty"`  // base64
	CaptureTimeMs  int64     `json:"captureTimeMillis"`
	Direction      Direction `json:"direction"`
	ByteLength     int       `json:"byteLength,omitempty"`
}

// Packet is the canonical unit the rest of the system consumes. The
// sequence index is assigned once at creation and never changes; a
// schema registry rebuild may rewrite PayloadText and Name in place.
type Packet struct {
	SequenceIndex int64         `json:"sequenceIndex"`
	CommandID     int           `json:"commandId"`
	Name          string        `json:"name"`
	Direction     Direction     `json:"direction"`
	CaptureTimeMs int64         `json:"captureTimeMillis"`
	ByteLength    int           `json:"byteLength"`
	PayloadText   string        `json:"payloadText"`
	PayloadOrigin PayloadOrigin `json:"payloadOrigin"`

	// RawBinaryPayload is retained whenever the record carried binary
	// data, so the packet can be redecoded after a registry rebuild.
	RawBinaryPayload string `json:"rawBinaryPayload,omitempty"`
}

// Redecodable reports whether a later registry rebuild could improve
// this packet: it still holds raw bytes and either decoded as binary
// or soft-failed to an inline payload.
func (p *Packet) Redecodable() bool {
	return p.RawBinaryPayload != ""
}
