// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/callscribe/callscribe/internal/journal"
	xlog "github.com/callscribe/callscribe/internal/log"
	"github.com/callscribe/callscribe/internal/session"
)

const defaultArchiveLimit = 100

// handleSessions lists all live (open or finalizing) sessions.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	snaps := s.registry.Snapshots()
	writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(snaps),
		"sessions": snaps,
	})
}

// handleSession returns one session by key, checking the live registry
// first and falling back to the finalized journal.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	key := session.Key(chi.URLParam(r, "key"))
	if key == "" {
		writeError(w, http.StatusBadRequest, "missing session key")
		return
	}

	if snap, ok := s.registry.Get(key); ok {
		writeJSON(w, http.StatusOK, map[string]any{
			"state":   snap.State,
			"session": snap,
		})
		return
	}

	fin, err := s.store.GetFinalized(r.Context(), key)
	if err != nil {
		if errors.Is(err, journal.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		s.serverError(w, r, err, "journal lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"state":   session.StateClosed,
		"session": fin,
	})
}

// handleArchive lists archived sessions, newest first.
func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	if s.index == nil {
		writeError(w, http.StatusNotFound, "archiving disabled")
		return
	}

	limit := defaultArchiveLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be an integer between 1 and 1000")
			return
		}
		limit = parsed
	}

	records, err := s.index.List(r.Context(), limit)
	if err != nil {
		s.serverError(w, r, err, "archive listing failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(records),
		"sessions": records,
	})
}

// handleFailures lists sessions whose hand-off exhausted all retries.
func (s *Server) handleFailures(w http.ResponseWriter, r *http.Request) {
	markers, err := s.store.Failures(r.Context())
	if err != nil {
		s.serverError(w, r, err, "failure listing failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(markers),
		"failures": markers,
	})
}

func (s *Server) serverError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	logger := xlog.WithContext(r.Context(), s.logger)
	logger.Error().Err(err).Str(xlog.FieldPath, r.URL.Path).Msg(msg)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"error": detail})
}
