// Package packet defines sentinel errors.
package packet

import "errors"

// Sentinel errors for the ingestion pipeline. Callers classify with
// errors.Is; detail is attached via fmt.Errorf("...: %w", Err...).
var (
	// ErrSchemaParse: malformed schema source; the previous registry is
	// left untouched.
	ErrSchemaParse = errors.New("packetlens: schema parse failed")

	// ErrDecode: a specific packet's binary payload could not be decoded
	// (unknown type or malformed bytes). Always recovered locally.
	ErrDecode = errors.New("packetlens: payload decode failed")

	// ErrTransport: the live stream connection failed.
	ErrTransport = errors.New("packetlens: stream transport failed")

	// ErrImportValidation: an uploaded batch file is not a JSON array of
	// records. Reported per file.
	ErrImportValidation = errors.New("packetlens: import file invalid")

	// ErrPrecondition: an operation requiring an active stream was
	// invoked while inactive.
	ErrPrecondition = errors.New("packetlens: operation requires an active stream")
)
