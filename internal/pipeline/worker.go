package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgallion1/htmlchunk/internal/chunker"
	"github.com/dgallion1/htmlchunk/internal/doctree"
	"github.com/dgallion1/htmlchunk/internal/parser"
	"github.com/dgallion1/htmlchunk/internal/pathstore"
	"github.com/dgallion1/htmlchunk/internal/stats"
)

// ChunkStore is the sink chunks are written to. *pathstore.Client
// implements it.
type ChunkStore interface {
	PutNode(ctx context.Context, key string, req pathstore.NodeRequest) error
	GetNode(ctx context.Context, key string) (*pathstore.NodeResponse, error)
	DeleteNode(ctx context.Context, key string, recursive bool) error
	ListChildren(ctx context.Context, key string, limit int) ([]pathstore.ListChildrenResponse, error)
}

// Worker processes a single document job.
type Worker struct {
	store      ChunkStore // nil: chunks are only kept on the job
	stats      *stats.ChunkStats
	log        *slog.Logger
	parserOpts parser.Options
	backoff    func(int) time.Duration

	maxConcurrentStore int
}

func NewWorker(store ChunkStore, chunkStats *stats.ChunkStats, log *slog.Logger, opts parser.Options, maxStore int) *Worker {
	if maxStore <= 0 {
		maxStore = 1
	}
	return &Worker{
		store:              store,
		stats:              chunkStats,
		log:                log,
		parserOpts:         opts,
		backoff:            Backoff,
		maxConcurrentStore: maxStore,
	}
}

// Process runs the full ingest pipeline for a job.
func (w *Worker) Process(ctx context.Context, job *Job) {
	log := w.log.With("job_id", job.ID, "doc_id", job.DocID, "user_id", job.UserID)

	// Phase 1: Parse
	job.SetStatus(StatusParsing, "parsing")
	p, err := parser.ForFile(job.Filename, w.parserOpts)
	if err != nil {
		log.Error("unsupported format", "error", err)
		job.AddError(err.Error())
		job.SetStatus(StatusFailed, "parsing")
		return
	}

	doc, err := p.Parse(bytes.NewReader(job.FileData()), job.Filename)
	if err != nil {
		log.Error("parse failed", "error", err)
		job.AddError(fmt.Sprintf("parse: %s", err))
		job.SetStatus(StatusFailed, "parsing")
		return
	}
	job.SetFileData(nil)
	job.SetDefaultTitle(doc.Title)

	// Phase 2: Chunk
	job.SetStatus(StatusChunking, "chunking")
	start := time.Now()
	chunks := chunker.ChunkTree(doc.Root)
	if w.stats != nil {
		w.stats.Observe(parser.FormatOf(job.Filename), start, len(chunks))
	}
	job.SetChunks(chunks)
	job.SetContentHash(ContentHashHex([]byte(strings.Join(doctree.Texts(chunks), "\n"))))
	log.Info("chunked document", "chunks", len(chunks))

	if w.store == nil {
		job.SetStatus(StatusCompleted, "done")
		return
	}
	if len(chunks) == 0 {
		log.Warn("no chunks produced, nothing to store")
		job.SetStatus(StatusCompleted, "done")
		return
	}

	// Phase 2.5: Dedup check
	if !job.Force {
		exists, existingDocID, err := w.checkDuplicate(ctx, job)
		if err != nil {
			log.Warn("dedup check failed, proceeding", "error", err)
		} else if exists {
			log.Info("duplicate document, skipping", "existing_doc_id", existingDocID)
			job.SetStatus(StatusDupSkipped, "dedup")
			return
		}
	}

	// Phase 3: Store chunks with bounded concurrency.
	job.SetStatus(StatusStoring, "storing")
	stored, hadErrors := w.storeChunks(ctx, log, job, chunks)
	job.AddStored(stored)
	log.Info("storage complete", "stored", stored, "total", len(chunks))

	w.writeMeta(ctx, log, job, stored, len(chunks))

	switch {
	case hadErrors && stored > 0:
		job.SetStatus(StatusPartial, "done")
	case hadErrors:
		job.SetStatus(StatusFailed, "storing")
	default:
		job.SetStatus(StatusCompleted, "done")
	}
}

func (w *Worker) storeChunks(ctx context.Context, log *slog.Logger, job *Job, chunks []doctree.Chunk) (int, bool) {
	// Re-ingesting a document replaces its previous chunks. The old dedup
	// entry goes too, or the old content would still resolve to this doc.
	if prev := StoredContentHash(ctx, w.store, job.UserID, job.DocID); prev != "" {
		if err := w.store.DeleteNode(ctx, HashKey(job.UserID, prev, job.DocID), false); err != nil {
			log.Warn("previous hash index delete failed", "hash", prev, "error", err)
		}
	}
	if err := w.store.DeleteNode(ctx, DocPrefix(job.UserID, job.DocID), true); err != nil {
		log.Debug("no previous document removed", "error", err)
	}

	type storeResult struct {
		err error
		key string
	}
	sem := make(chan struct{}, w.maxConcurrentStore)
	results := make(chan storeResult, len(chunks))

	for _, c := range chunks {
		sem <- struct{}{}
		go func(c doctree.Chunk) {
			defer func() { <-sem }()
			key := ChunkKey(job.UserID, job.DocID, c.Index)
			err := retry(ctx, w.backoff, func() error {
				return w.store.PutNode(ctx, key, pathstore.NodeRequest{
					Value: map[string]any{
						"text":       c.Text,
						"content":    c.Content,
						"breadcrumb": c.Breadcrumb,
						"element":    c.Element,
						"index":      c.Index,
					},
					Source: "htmlchunk:" + job.DocID,
				})
			})
			results <- storeResult{err: err, key: key}
		}(c)
	}

	stored := 0
	hadErrors := false
	for range chunks {
		r := <-results
		if r.err != nil {
			log.Error("store failed", "key", r.key, "error", r.err)
			job.AddError(fmt.Sprintf("store %s: %s", r.key, r.err))
			hadErrors = true
			continue
		}
		stored++
	}
	return stored, hadErrors
}

func (w *Worker) writeMeta(ctx context.Context, log *slog.Logger, job *Job, stored, total int) {
	snap := job.Snapshot()
	meta := map[string]any{
		"doc_id":           job.DocID,
		"filename":         job.Filename,
		"title":            snap.Title,
		"content_hash":     snap.ContentHash,
		"chunks_stored":    stored,
		"total_chunks":     total,
		"estimated_tokens": snap.Progress.EstimatedTokens,
		"created_at":       job.CreatedAt.Format(time.RFC3339),
	}
	source := "htmlchunk:" + job.DocID

	metaErr := retry(ctx, w.backoff, func() error {
		return w.store.PutNode(ctx, MetaKey(job.UserID, job.DocID), pathstore.NodeRequest{Value: meta, Source: source})
	})
	if metaErr != nil {
		log.Error("meta write failed", "error", metaErr)
		job.AddError(fmt.Sprintf("meta: %s", metaErr))
		return
	}

	indexErr := retry(ctx, w.backoff, func() error {
		return w.store.PutNode(ctx, DocIndexKey(job.UserID, job.DocID), pathstore.NodeRequest{Value: meta, Source: source})
	})
	if indexErr != nil {
		log.Error("document index write failed", "error", indexErr)
		job.AddError(fmt.Sprintf("index: %s", indexErr))
	}

	hashErr := w.store.PutNode(ctx, HashKey(job.UserID, snap.ContentHash, job.DocID), pathstore.NodeRequest{
		Value: map[string]any{
			"filename":   job.Filename,
			"created_at": job.CreatedAt.Format(time.RFC3339),
		},
		Source: source,
	})
	if hashErr != nil {
		log.Error("hash index write failed", "error", hashErr)
	}
}

// StoredContentHash returns the content hash recorded in a stored
// document's meta node, or "" when there is none.
func StoredContentHash(ctx context.Context, store ChunkStore, userID, docID string) string {
	meta, err := store.GetNode(ctx, MetaKey(userID, docID))
	if err != nil || meta == nil {
		return ""
	}
	metaMap, ok := meta.Value.(map[string]any)
	if !ok {
		return ""
	}
	hash, _ := metaMap["content_hash"].(string)
	return hash
}

// checkDuplicate checks if this content hash already exists for the user.
func (w *Worker) checkDuplicate(ctx context.Context, job *Job) (bool, string, error) {
	children, err := w.store.ListChildren(ctx, HashPrefix(job.UserID, job.Snapshot().ContentHash), 1)
	if err != nil {
		return false, "", err
	}
	if len(children) > 0 {
		return true, lastSegment(children[0].Key), nil
	}
	return false, "", nil
}

// lastSegment returns the final element of a '/' or '.' separated key.
func lastSegment(key string) string {
	if i := strings.LastIndexAny(key, "/."); i >= 0 {
		return UnescapeSegment(key[i+1:])
	}
	return UnescapeSegment(key)
}
