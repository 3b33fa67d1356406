package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/dgallion1/htmlchunk/internal/pipeline"
	"github.com/go-chi/chi/v5"
)

const (
	defaultListLimit = 200
	maxListLimit     = 1000
)

// handleListDocuments lists the stored documents of a user from the
// per-user document index.
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	store := s.orchestrator.Store()
	if store == nil {
		jsonError(w, "document storage is not configured", http.StatusServiceUnavailable)
		return
	}
	userID := r.URL.Query().Get("user_id")
	if err := pipeline.ValidateID("user_id", userID); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			jsonError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxListLimit)
	}

	entries, err := store.ListChildren(r.Context(), pipeline.DocIndexPrefix(userID), limit)
	if err != nil {
		jsonError(w, "failed to list documents: "+err.Error(), http.StatusBadGateway)
		return
	}

	docs := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		docs = append(docs, map[string]any{
			"doc_id": lastKeySegment(entry.Key),
			"key":    entry.Key,
			"meta":   entry.Value,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"documents": docs, "count": len(docs)})
}

// handleDeleteDocument deletes a document, its chunks, its index entry and
// its dedup entry.
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	store := s.orchestrator.Store()
	if store == nil {
		jsonError(w, "document storage is not configured", http.StatusServiceUnavailable)
		return
	}
	docID := chi.URLParam(r, "docID")
	userID := r.URL.Query().Get("user_id")
	if err := pipeline.ValidateID("user_id", userID); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := pipeline.ValidateID("doc_id", docID); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	// The hash lives in the meta node, so read it before the prefix goes away.
	hash := pipeline.StoredContentHash(ctx, store, userID, docID)

	if err := store.DeleteNode(ctx, pipeline.DocPrefix(userID, docID), true); err != nil {
		jsonError(w, "failed to delete document: "+err.Error(), http.StatusBadGateway)
		return
	}
	if err := store.DeleteNode(ctx, pipeline.DocIndexKey(userID, docID), false); err != nil {
		s.log.Warn("document index delete failed", "doc_id", docID, "error", err)
	}

	hashDeleted := false
	if hash != "" {
		if err := store.DeleteNode(ctx, pipeline.HashKey(userID, hash, docID), false); err != nil {
			s.log.Warn("hash index delete failed", "doc_id", docID, "error", err)
		} else {
			hashDeleted = true
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"doc_id":             docID,
		"deleted":            true,
		"hash_index_deleted": hashDeleted,
	})
}

func lastKeySegment(key string) string {
	if i := strings.LastIndexAny(key, "/."); i >= 0 {
		key = key[i+1:]
	}
	return pipeline.UnescapeSegment(key)
}
