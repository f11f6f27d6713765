package pipeline

import (
	"encoding/base64"
	"encoding/json"
	"strconv"

	"github.com/packetlens/packetlens/internal/packet"
	"github.com/packetlens/packetlens/internal/schema"
)

// EnvelopeConfig identifies the multiplexed envelope message shape and
// the one known sub-type that nests a further discriminated payload.
// Field names are the JSON names the decoder emits (lowerCamel).
type EnvelopeConfig struct {
	TypeName  string `mapstructure:"type_name"`  // envelope message type
	ListField string `mapstructure:"list_field"` // array of inner entries
	IDField   string `mapstructure:"id_field"`   // inner command id
	BodyField string `mapstructure:"body_field"` // inner base64 body

	SubTypeName        string               `mapstructure:"sub_type_name"`       // second-level envelope type
	DiscriminatorField string               `mapstructure:"discriminator_field"` // maps to a dynamic type name
	SubBodyField       string               `mapstructure:"sub_body_field"`      // nested base64 body
	NameTransform      schema.NameTransform `mapstructure:"name_transform"`
}

// DefaultEnvelopeConfig matches the schema family this dashboard is
// normally pointed at.
func DefaultEnvelopeConfig() EnvelopeConfig {
	return EnvelopeConfig{
		TypeName:           "CmdBundle",
		ListField:          "cmds",
		IDField:            "cmdId",
		BodyField:          "body",
		SubTypeName:        "EventFrame",
		DiscriminatorField: "eventType",
		SubBodyField:       "payload",
		NameTransform:      schema.NameTransform{StripPrefix: "EVT_", Suffix: "Event"},
	}
}

// childSpec is one synthesized packet before a sequence index is
// assigned.
type childSpec struct {
	CmdID       int
	Name        string
	PayloadText string
	Origin      packet.PayloadOrigin
	RawBody     []byte
	ByteLength  int
}

// unwrapEnvelope expands a successfully decoded envelope record into
// synthesized child packets: one per inner entry, plus third-level
// packets for entries of the known sub-type whose discriminator maps to
// a registered schema type. Non-envelope records yield nothing. The
// parent packet is emitted by the caller regardless; expansion is
// additive.
func unwrapEnvelope(reg *schema.Registry, cfg EnvelopeConfig, resolvedName string, decoded json.RawMessage) []childSpec {
	if resolvedName != cfg.TypeName || len(decoded) == 0 {
		return nil
	}
	var record map[string]any
	if err := json.Unmarshal(decoded, &record); err != nil {
		return nil
	}
	entries, ok := record[cfg.ListField].([]any)
	if !ok {
		return nil
	}

	var children, nested []childSpec
	for _, raw := range entries {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		cmdID, ok := jsonInt(entry[cfg.IDField])
		if !ok {
			continue
		}
		body, ok := jsonBase64(entry[cfg.BodyField])
		if !ok {
			continue
		}

		child := decodeChild(reg, cmdID, body)
		children = append(children, child)

		if child.Origin == packet.OriginDecodedBinary && child.Name == cfg.SubTypeName {
			if sub, ok := unwrapSubEntry(reg, cfg, child.PayloadText); ok {
				nested = append(nested, sub)
			}
		}
	}
	return append(children, nested...)
}

// unwrapSubEntry handles the deeper nesting level: the sub-type's
// decoded record carries a discriminator whose transformed name may
// exist in the registry. Unmapped discriminators are skipped.
func unwrapSubEntry(reg *schema.Registry, cfg EnvelopeConfig, payloadText string) (childSpec, bool) {
	var record map[string]any
	if err := json.Unmarshal([]byte(payloadText), &record); err != nil {
		return childSpec{}, false
	}
	disc, _ := record[cfg.DiscriminatorField].(string)
	mapped := cfg.NameTransform.Apply(disc)
	if mapped == "" || reg == nil || !reg.Has(mapped) {
		return childSpec{}, false
	}
	body, ok := jsonBase64(record[cfg.SubBodyField])
	if !ok {
		return childSpec{}, false
	}

	spec := childSpec{Name: mapped, RawBody: body, ByteLength: len(body)}
	if id, ok := reg.CommandID(mapped); ok {
		spec.CmdID = id
	}
	if decoded, err := reg.Decode(mapped, body); err == nil {
		spec.PayloadText = string(decoded)
		spec.Origin = packet.OriginDecodedBinary
	} else {
		spec.PayloadText = emptyPayload
		spec.Origin = packet.OriginInlineJSON
	}
	return spec, true
}

// decodeChild decodes one inner entry body the same way the top-level
// decoder would: soft-fail to an Unknown placeholder.
func decodeChild(reg *schema.Registry, cmdID int, body []byte) childSpec {
	spec := childSpec{
		CmdID:       cmdID,
		Name:        packet.UnknownName,
		PayloadText: emptyPayload,
		Origin:      packet.OriginInlineJSON,
		RawBody:     body,
		ByteLength:  len(body),
	}
	if reg == nil {
		return spec
	}
	name, ok := reg.Lookup(cmdID)
	if !ok {
		return spec
	}
	spec.Name = name
	if decoded, err := reg.Decode(name, body); err == nil {
		spec.PayloadText = string(decoded)
		spec.Origin = packet.OriginDecodedBinary
	}
	return spec
}

// jsonInt extracts an integer from a decoded JSON value. protojson
// renders 32-bit ints as numbers and 64-bit ints as strings, so both
// shapes appear here.
func jsonInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	default:
		return 0, false
	}
}

// jsonBase64 extracts a base64 bytes field as raw bytes.
func jsonBase64(v any) ([]byte, bool) {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil, false
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, false
	}
	return raw, true
}
