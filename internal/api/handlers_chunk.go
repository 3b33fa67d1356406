package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/dgallion1/htmlchunk/internal/chunker"
	"github.com/dgallion1/htmlchunk/internal/doctree"
)

type chunkRequest struct {
	HTML string `json:"html"`
}

// handleChunk chunks an HTML body synchronously. The body is either raw
// HTML or a JSON object {"html": "..."}.
func (s *Server) handleChunk(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	src, err := readChunkSource(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			jsonError(w, fmt.Sprintf("body exceeds max size (%d bytes)", s.cfg.MaxUploadBytes), http.StatusRequestEntityTooLarge)
			return
		}
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	start := time.Now()
	root, err := html.Parse(strings.NewReader(src))
	if err != nil {
		jsonError(w, "parse html: "+err.Error(), http.StatusBadRequest)
		return
	}
	chunks := chunker.ChunkTree(root)
	if s.stats != nil {
		s.stats.Observe("html", start, len(chunks))
	}

	w.Header().Set("Content-Type", "application/json")
	if r.URL.Query().Get("format") == "sections" {
		if chunks == nil {
			chunks = []doctree.Chunk{}
		}
		tokens := 0
		for _, c := range chunks {
			tokens += chunker.EstimateTokens(c.Text)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"chunks":           chunks,
			"count":            len(chunks),
			"estimated_tokens": tokens,
		})
		return
	}

	texts := doctree.Texts(chunks)
	if texts == nil {
		texts = []string{}
	}
	json.NewEncoder(w).Encode(map[string]any{
		"chunks": texts,
		"count":  len(texts),
	})
}

func readChunkSource(r *http.Request) (string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var req chunkRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return "", err
			}
			return "", fmt.Errorf("invalid json body: %w", err)
		}
		return req.HTML, nil
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
