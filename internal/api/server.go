// Package api serves the Snapshot Read API described in spec.md §4.6:
// a read-only, out-of-band endpoint for cold reads of a document's
// last-persisted snapshot, bypassing the live relay entirely.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/docrelay/relay/internal/snapshotstore"
	"github.com/sirupsen/logrus"
)

// Server exposes the Snapshot Read API.
type Server struct {
	store snapshotstore.Store
	log   logrus.FieldLogger
}

// NewServer constructs a Server backed by store.
func NewServer(store snapshotstore.Store, log logrus.FieldLogger) *Server {
	return &Server{store: store, log: log}
}

// Handler returns the mux serving GET /api/<docId>.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/", s.handleGetSnapshot)

	return mux
}

// SnapshotResponse is the JSON body returned for a known document.
type SnapshotResponse struct {
	DocID   string `json:"docId"`
	Text    string `json:"text"`
	Version int    `json:"version"`
}

func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)

		return
	}

	docID := strings.TrimPrefix(r.URL.Path, "/api/")
	if docID == "" {
		http.Error(w, "document id is required", http.StatusBadRequest)

		return
	}

	rec, err := s.store.Load(r.Context(), docID)
	if err != nil {
		if errors.Is(err, snapshotstore.ErrNotFound) {
			http.Error(w, "document not found", http.StatusNotFound)

			return
		}

		s.log.WithError(err).WithField("doc_id", docID).Warn("snapshot read failed")
		http.Error(w, "internal server error", http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(SnapshotResponse{
		DocID:   docID,
		Text:    rec.Text,
		Version: rec.Version,
	}); err != nil {
		s.log.WithError(err).WithField("doc_id", docID).Warn("failed to encode snapshot response")
	}
}
