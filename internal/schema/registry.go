// Package schema builds and queries the protobuf type registry used to
// decode packet payloads. A registry is built wholesale from uploaded
// schema source text and replaced, never patched; readers always see
// either the old or the new registry.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jhump/protoreflect/desc/protoparse"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/packetlens/packetlens/internal/packet"
)

// registryFile is the virtual file name the combined schema source is
// parsed under.
const registryFile = "registry.proto"

// Source is one uploaded schema source text, tagged by origin for
// diagnostics.
type Source struct {
	Name string
	Text string
}

// Registry maps message type names to decodable descriptors and command
// ids to type names. Immutable after Build.
type Registry struct {
	typesByName map[string]protoreflect.MessageDescriptor
	nameByCmdID map[int]string
	source      string // combined source text the registry was built from
}

// Build parses the concatenated schema sources into a Registry and
// extracts command-id associations from `// CmdId: N` comment lines.
// On any parse error the returned registry is nil and the caller's
// previous registry must be kept as-is.
func Build(sources []Source) (*Registry, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: no schema sources", packet.ErrSchemaParse)
	}
	combined := combine(sources)

	parser := protoparse.Parser{
		Accessor: protoparse.FileContentsFromMap(map[string]string{
			registryFile: combined,
		}),
	}
	fds, err := parser.ParseFiles(registryFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", packet.ErrSchemaParse, err)
	}

	r := &Registry{
		typesByName: make(map[string]protoreflect.MessageDescriptor),
		nameByCmdID: scanCommandIDs(combined),
		source:      combined,
	}
	for _, md := range fds[0].GetMessageTypes() {
		r.typesByName[md.GetName()] = md.UnwrapMessage()
	}
	return r, nil
}

// combine concatenates sources separated by provenance comments. The
// proto grammar allows only one syntax/package statement per file, so
// per-source syntax and package lines are commented out and a single
// proto3 header is prepended.
func combine(sources []Source) string {
	var b strings.Builder
	b.WriteString("syntax = \"proto3\";\n")
	for _, src := range sources {
		fmt.Fprintf(&b, "// source: %s\n", src.Name)
		for _, line := range strings.Split(src.Text, "\n") {
			trimmed := strings.TrimSpace(line)
			if strings.HasPrefix(trimmed, "syntax") || strings.HasPrefix(trimmed, "package ") {
				b.WriteString("// ")
			}
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// Lookup resolves a command id to a schema type name.
func (r *Registry) Lookup(cmdID int) (string, bool) {
	name, ok := r.nameByCmdID[cmdID]
	return name, ok
}

// CommandID is the reverse of Lookup; used when synthesizing packets
// for dynamically-named types that have a registered id.
func (r *Registry) CommandID(typeName string) (int, bool) {
	for id, name := range r.nameByCmdID {
		if name == typeName {
			return id, true
		}
	}
	return 0, false
}

// Has reports whether typeName is a decodable message type.
func (r *Registry) Has(typeName string) bool {
	_, ok := r.typesByName[typeName]
	return ok
}

// TypeCount returns the number of decodable message types.
func (r *Registry) TypeCount() int { return len(r.typesByName) }

// MappingCount returns the number of command-id associations found,
// reported back to the UI after a schema upload.
func (r *Registry) MappingCount() int { return len(r.nameByCmdID) }

// SourceText returns the combined source the registry was built from,
// persisted so the registry survives a restart.
func (r *Registry) SourceText() string { return r.source }

// Decode unmarshals binary data as the named message type and renders
// it as compact JSON. Unknown type names and malformed bytes both fail
// with an error wrapping packet.ErrDecode.
func (r *Registry) Decode(typeName string, data []byte) (json.RawMessage, error) {
	md, ok := r.typesByName[typeName]
	if !ok {
		return nil, fmt.Errorf("%w: unknown type %q", packet.ErrDecode, typeName)
	}
	msg := dynamicpb.NewMessage(md)
	if err := proto.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", packet.ErrDecode, typeName, err)
	}
	out, err := protojson.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", packet.ErrDecode, typeName, err)
	}
	// protojson output spacing is intentionally unstable across builds;
	// compact it so payload text comparisons hold.
	var compact bytes.Buffer
	if err := json.Compact(&compact, out); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", packet.ErrDecode, typeName, err)
	}
	return compact.Bytes(), nil
}

// Encode is the inverse of Decode: JSON text in, wire bytes out.
func (r *Registry) Encode(typeName string, jsonText []byte) ([]byte, error) {
	md, ok := r.typesByName[typeName]
	if !ok {
		return nil, fmt.Errorf("%w: unknown type %q", packet.ErrDecode, typeName)
	}
	msg := dynamicpb.NewMessage(md)
	if err := protojson.Unmarshal(jsonText, msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", packet.ErrDecode, typeName, err)
	}
	return proto.Marshal(msg)
}

// warnDuplicate logs a duplicate command-id association. Last writer
// wins by text order, which matches the upload contract but is worth a
// warning because it is usually a schema mistake.
func warnDuplicate(id int, old, new string) {
	slog.Warn("duplicate command id in schema sources, last one wins",
		"command_id", id, "previous", old, "replacement", new)
}
