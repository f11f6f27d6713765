package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/packetlens/packetlens/internal/ingest"
	"github.com/packetlens/packetlens/internal/packet"
	"github.com/packetlens/packetlens/internal/schema"
)

// maxUploadBytes bounds schema/import/replay uploads.
const maxUploadBytes = 256 << 20

func (s *Server) handleSchemaUpload(w http.ResponseWriter, r *http.Request) {
	files, err := formFiles(r, "files")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("no schema files uploaded"))
		return
	}

	sources := make([]schema.Source, 0, len(files))
	for _, f := range files {
		sources = append(sources, schema.Source{Name: f.name, Text: string(f.data)})
	}

	reg, err := schema.Build(sources)
	if err != nil {
		// The previous registry stays in place untouched.
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	s.session.SetRegistry(reg)
	if err := s.store.SaveSchemaSource(reg.SourceText()); err != nil {
		slog.Error("schema source persist failed", "error", err)
	}

	// Rebuild triggers a best-effort re-decode over packets still
	// holding raw bytes, then a synchronous replace-all save.
	redecoded := s.session.Redecode()
	if err := s.store.SaveAll(s.session.Snapshot()); err != nil {
		slog.Error("packet persist after schema rebuild failed", "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"mappingCount": reg.MappingCount(),
		"typeCount":    reg.TypeCount(),
		"redecoded":    redecoded,
	})
}

func (s *Server) handleSchemaInfo(w http.ResponseWriter, r *http.Request) {
	reg := s.session.Registry()
	if reg == nil {
		writeJSON(w, http.StatusOK, map[string]any{"loaded": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"loaded":       true,
		"typeCount":    reg.TypeCount(),
		"mappingCount": reg.MappingCount(),
	})
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	files, err := formFiles(r, "files")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("no import files uploaded"))
		return
	}

	batch := make([]ingest.BatchFile, 0, len(files))
	for _, f := range files {
		batch = append(batch, ingest.BatchFile{Name: f.name, Data: f.data})
	}
	result := ingest.ImportBatch(r.Context(), s.session, s.store, batch)

	status := http.StatusOK
	if !result.Imported {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, result)
}

func (s *Server) handlePackets(w http.ResponseWriter, r *http.Request) {
	pkts := s.session.Snapshot()
	total := len(pkts)

	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", total)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total":   total,
		"packets": pkts[offset:end],
	})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.session.Clear()
	if err := s.store.Clear(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLiveStart(w http.ResponseWriter, r *http.Request) {
	if err := s.client.Start(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	if !s.stream.Active() {
		if err := s.stream.Start(r.Context()); err != nil {
			writeError(w, http.StatusBadGateway, err)
			return
		}
	}
	s.noteStreamClosed(nil)
	writeJSON(w, http.StatusOK, map[string]any{"streamActive": true})
}

func (s *Server) handleLiveStop(w http.ResponseWriter, r *http.Request) {
	s.stream.Cancel()
	if err := s.client.Stop(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"streamActive": false})
}

func (s *Server) handleLiveStatus(w http.ResponseWriter, r *http.Request) {
	running, err := s.client.Status(r.Context())
	resp := map[string]any{
		"streamActive":   s.stream.Active(),
		"captureRunning": running,
	}
	if err != nil {
		resp["captureError"] = err.Error()
	}
	s.mu.Lock()
	if s.lastStreamErr != nil {
		resp["connectionLost"] = s.lastStreamErr.Error()
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	files, err := formFiles(r, "file")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(files) != 1 {
		writeError(w, http.StatusBadRequest, errors.New("exactly one capture file required"))
		return
	}

	err = ingest.Replay(r.Context(), s.stream, s.client, files[0].name, files[0].data)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"forwarded": files[0].name})
	case errors.Is(err, packet.ErrPrecondition):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, packet.ErrImportValidation):
		writeError(w, http.StatusBadRequest, err)
	default:
		writeError(w, http.StatusBadGateway, err)
	}
}

func (s *Server) handleQuota(w http.ResponseWriter, r *http.Request) {
	used, limit, err := s.store.Quota()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"usedBytes":  used,
		"limitBytes": limit,
	})
}

// formFile is one decoded multipart upload.
type formFile struct {
	name string
	data []byte
}

// formFiles reads every file under the given multipart field, in form
// order. Order matters for schema sources (last writer wins for
// duplicate command ids).
func formFiles(r *http.Request, field string) ([]formFile, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, err
	}
	var out []formFile
	for _, hdr := range r.MultipartForm.File[field] {
		data, err := readPart(hdr)
		if err != nil {
			return nil, err
		}
		out = append(out, formFile{name: hdr.Filename, data: data})
	}
	return out, nil
}

func readPart(hdr *multipart.FileHeader) ([]byte, error) {
	f, err := hdr.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
