package pipeline

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/packetlens/packetlens/internal/metrics"
	"github.com/packetlens/packetlens/internal/packet"
	"github.com/packetlens/packetlens/internal/schema"
)

// emptyPayload is the sentinel payload when a record carries nothing
// usable.
const emptyPayload = "{}"

// decodeResult is the outcome of one payload decode attempt. Decode
// never fails upward; a failed binary decode degrades to the inline or
// sentinel payload and the result says which happened.
type decodeResult struct {
	PayloadText string
	Origin      packet.PayloadOrigin
	Name        string
	Decoded     json.RawMessage // set only when Origin == DECODED_BINARY
	RawBytes    []byte          // decoded base64 payload, nil when absent
}

// decodePayload applies the decode decision policy to one raw record:
// binary decode when a schema name resolves, inline JSON as fallback,
// sentinel otherwise.
func (s *Session) decodePayload(reg *schema.Registry, rec packet.RawRecord) decodeResult {
	res := decodeResult{Name: packet.UnknownName}

	if rec.BinaryPayload != "" {
		raw, err := base64.StdEncoding.DecodeString(rec.BinaryPayload)
		if err != nil {
			s.noteDecodeFailure(rec.CommandID, "bad_base64", err)
		} else {
			res.RawBytes = raw
			name := rec.SchemaTypeName
			if name == "" && reg != nil {
				name, _ = reg.Lookup(rec.CommandID)
			}
			if name != "" {
				res.Name = name
				if reg != nil {
					decoded, err := reg.Decode(name, raw)
					if err == nil {
						res.PayloadText = string(decoded)
						res.Origin = packet.OriginDecodedBinary
						res.Decoded = decoded
						return res
					}
					s.noteDecodeFailure(rec.CommandID, "decode_error", err)
				} else {
					s.noteDecodeFailure(rec.CommandID, "no_registry", nil)
				}
			} else {
				s.noteDecodeFailure(rec.CommandID, "unknown_command", nil)
			}
		}
	}

	// Inline fallback: pass valid JSON through verbatim, stringify
	// anything else so payload text is always valid JSON.
	res.Origin = packet.OriginInlineJSON
	switch {
	case rec.InlineData != "" && json.Valid([]byte(rec.InlineData)):
		res.PayloadText = rec.InlineData
	case rec.InlineData != "":
		res.PayloadText = strconv.Quote(rec.InlineData)
	default:
		res.PayloadText = emptyPayload
	}
	return res
}

// noteDecodeFailure records a soft decode failure. Log lines are
// throttled per command id so a hot stream of undecodable packets does
// not flood the log.
func (s *Session) noteDecodeFailure(cmdID int, reason string, err error) {
	metrics.DecodeFailuresTotal.WithLabelValues(reason).Inc()
	key := fmt.Sprintf("%s/%d", reason, cmdID)
	if _, throttled := s.throttle.Get(key); throttled {
		return
	}
	s.throttle.SetDefault(key, struct{}{})
	slog.Warn("payload decode failed, keeping packet",
		"command_id", cmdID, "reason", reason, "error", err)
}
