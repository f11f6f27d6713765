// Package ingest implements the three ingestion adapters feeding the
// normalization pipeline: batch import, the live capture stream, and
// capture-file replay through the external capture server.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/packetlens/packetlens/internal/packet"
	"github.com/packetlens/packetlens/internal/pipeline"
	"github.com/packetlens/packetlens/internal/store"
)

// BatchFile is one uploaded batch import file.
type BatchFile struct {
	Name string
	Data []byte
}

// FileReport is the per-file outcome of a batch import.
type FileReport struct {
	Name    string `json:"name"`
	Records int    `json:"records"`
	Error   string `json:"error,omitempty"`
}

// BatchResult summarizes a batch import.
type BatchResult struct {
	Files    []FileReport `json:"files"`
	Records  int          `json:"records"`
	Packets  int          `json:"packets"`
	Imported bool         `json:"imported"`
}

// ImportBatch parses each file as a JSON array of raw records,
// concatenates the arrays in file order and replaces the collection
// with the normalized result. A file that fails to parse is reported
// without aborting the others; if every file fails nothing is imported
// and the collection is untouched.
func ImportBatch(ctx context.Context, session *pipeline.Session, st store.PacketStore, files []BatchFile) BatchResult {
	var result BatchResult
	var records []packet.RawRecord

	for _, f := range files {
		recs, err := parseBatchFile(f)
		report := FileReport{Name: f.Name, Records: len(recs)}
		if err != nil {
			report.Error = err.Error()
			slog.Warn("batch file rejected", "file", f.Name, "error", err)
		} else {
			records = append(records, recs...)
			result.Records += len(recs)
		}
		result.Files = append(result.Files, report)
	}
	if result.Records == 0 && !anyParsed(result.Files) {
		return result
	}

	pkts := session.Import(ctx, records)
	result.Packets = len(pkts)
	result.Imported = true

	// Batch import persists synchronously, replace-all.
	if st != nil {
		if err := st.SaveAll(pkts); err != nil {
			slog.Error("batch import persist failed", "error", err)
		}
	}
	return result
}

// parseBatchFile validates and decodes one import file.
func parseBatchFile(f BatchFile) ([]packet.RawRecord, error) {
	if !json.Valid(f.Data) {
		return nil, fmt.Errorf("%w: %s is not valid JSON", packet.ErrImportValidation, f.Name)
	}
	var recs []packet.RawRecord
	if err := json.Unmarshal(f.Data, &recs); err != nil {
		return nil, fmt.Errorf("%w: %s is not a JSON array of records: %v", packet.ErrImportValidation, f.Name, err)
	}
	return recs, nil
}

func anyParsed(reports []FileReport) bool {
	for _, r := range reports {
		if r.Error == "" {
			return true
		}
	}
	return false
}
