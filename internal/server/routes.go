package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/lazypower/frecent/internal/engine"
)

// maxBodyBytes bounds request bodies; a state import is the largest.
const maxBodyBytes = 8 << 20

type keyRequest struct {
	Key string `json:"key"`
}

type keysRequest struct {
	Keys []string `json:"keys"`
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func (s *Server) handleVisit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key string `json:"key"`
		Now *int64 `json:"now"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Key == "" {
		writeError(w, http.StatusBadRequest, engine.ErrEmptyKey.Error())
		return
	}

	now := s.tracker.Now()
	if req.Now != nil {
		now = *req.Now
	}
	counted := s.tracker.RecordVisit(req.Key, now)

	resp := map[string]any{
		"key":     req.Key,
		"counted": counted,
	}
	if rec, ok := s.tracker.Record(req.Key); ok {
		resp["record"] = rec
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OldKey string `json:"old_key"`
		NewKey string `json:"new_key"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.OldKey == "" || req.NewKey == "" {
		writeError(w, http.StatusBadRequest, "old_key and new_key required")
		return
	}

	s.tracker.HandleRename(req.OldKey, req.NewKey)

	resp := map[string]any{"old_key": req.OldKey, "new_key": req.NewKey}
	if rec, ok := s.tracker.Record(req.NewKey); ok {
		resp["record"] = rec
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req keyRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Key == "" {
		writeError(w, http.StatusBadRequest, engine.ErrEmptyKey.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"key":     req.Key,
		"deleted": s.tracker.HandleDelete(req.Key),
	})
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	var req keyRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Key == "" {
		writeError(w, http.StatusBadRequest, engine.ErrEmptyKey.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"key":     req.Key,
		"removed": s.tracker.RemoveEntry(req.Key),
	})
}

func (s *Server) handleGetOpen(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"keys": s.tracker.OpenKeys()})
}

func (s *Server) handleSetOpen(w http.ResponseWriter, r *http.Request) {
	var req keysRequest
	if !decode(w, r, &req) {
		return
	}
	s.tracker.SetOpen(req.Keys)
	writeJSON(w, http.StatusOK, map[string]any{"keys": s.tracker.OpenKeys()})
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	var req keyRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Key == "" {
		writeError(w, http.StatusBadRequest, engine.ErrEmptyKey.Error())
		return
	}
	s.tracker.CloseKey(req.Key)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var entries []engine.Entry
	if all, _ := strconv.ParseBool(q.Get("all")); all {
		entries = s.tracker.RankedAll()
	} else {
		limit := 0
		if v := q.Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			limit = n
		}
		entries = s.tracker.Ranked(limit)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

func (s *Server) handleTotal(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"total":   s.tracker.TotalScore(),
		"records": s.tracker.Len(),
		"max_age": s.tracker.Settings().MaxAge,
	})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.tracker.ClearAll()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	var req keysRequest
	if !decode(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": s.tracker.Reconcile(req.Keys)})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tracker.Settings())
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	// fields absent from the body keep their current value
	settings := s.tracker.Settings()
	if !decode(w, r, &settings) {
		return
	}
	if settings.MaxItems < 0 {
		writeError(w, http.StatusBadRequest, "maxItems must not be negative")
		return
	}
	s.tracker.UpdateSettings(settings)
	writeJSON(w, http.StatusOK, s.tracker.Settings())
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	data, err := engine.EncodeState(s.tracker.Snapshot())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body failed")
		return
	}
	st, err := engine.ParseState(data, s.tracker.Settings())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"records": s.tracker.Replace(st)})
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	if err := s.tracker.Flush(r.Context()); err != nil {
		s.logger.Error("flush failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
