package embeddings

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nous-labs/scribe/pkg/store"
)

// RefSource lists the notes that should have vectors.
type RefSource interface {
	NoteRefs(ctx context.Context) ([]store.NoteRef, error)
}

// VectorSink is where the worker writes vectors.
type VectorSink interface {
	Hashes(ctx context.Context) (map[string]string, error)
	Upsert(ctx context.Context, vectors []Vector) error
	Delete(ctx context.Context, noteIDs []string) error
}

// SyncWorker keeps note vectors in step with the notes table: new and
// edited notes are embedded, vectors of deleted notes are dropped.
type SyncWorker struct {
	notes     RefSource
	sink      VectorSink
	embedder  Embedder
	interval  time.Duration
	batchSize int
}

// NewSyncWorker creates a sync worker. Zero interval and batch size get
// defaults of 30s and 32.
func NewSyncWorker(notes RefSource, sink VectorSink, embedder Embedder, interval time.Duration, batchSize int) *SyncWorker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 32
	}
	return &SyncWorker{
		notes:     notes,
		sink:      sink,
		embedder:  embedder,
		interval:  interval,
		batchSize: batchSize,
	}
}

// Run syncs once, then on every tick until ctx is cancelled.
func (w *SyncWorker) Run(ctx context.Context) {
	slog.Info("embedding sync worker started", "interval", w.interval, "batch_size", w.batchSize)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		if n, err := w.SyncOnce(ctx); err != nil {
			slog.Warn("embedding sync cycle failed", "error", err)
		} else if n > 0 {
			slog.Info("embedding sync cycle", "embedded", n)
		}
		select {
		case <-ctx.Done():
			slog.Info("embedding sync worker stopping")
			return
		case <-ticker.C:
		}
	}
}

// SyncOnce runs one cycle and returns how many notes were embedded. A
// failed batch is logged and skipped; the next cycle retries it.
func (w *SyncWorker) SyncOnce(ctx context.Context) (int, error) {
	refs, err := w.notes.NoteRefs(ctx)
	if err != nil {
		return 0, fmt.Errorf("get note refs: %w", err)
	}
	hashes, err := w.sink.Hashes(ctx)
	if err != nil {
		return 0, fmt.Errorf("get embedded: %w", err)
	}

	live := make(map[string]bool, len(refs))
	var pending []store.NoteRef
	for _, ref := range refs {
		live[ref.ID] = true
		if hash, ok := hashes[ref.ID]; !ok || hash != ref.ContentHash {
			pending = append(pending, ref)
		}
	}

	var gone []string
	for id := range hashes {
		if !live[id] {
			gone = append(gone, id)
		}
	}
	if err := w.sink.Delete(ctx, gone); err != nil {
		slog.Warn("drop stale embeddings failed", "error", err, "count", len(gone))
	}

	total := 0
	for start := 0; start < len(pending); start += w.batchSize {
		batch := pending[start:min(start+w.batchSize, len(pending))]

		texts := make([]string, len(batch))
		for i, ref := range batch {
			texts[i] = ref.Text
		}
		embedded, err := w.embedder.EmbedDocuments(ctx, texts)
		if err == nil && len(embedded) != len(batch) {
			err = fmt.Errorf("got %d vectors for %d notes", len(embedded), len(batch))
		}
		if err != nil {
			slog.Warn("embed batch failed", "error", err, "batch_start", start, "batch_size", len(texts))
			continue
		}

		vectors := make([]Vector, len(batch))
		for i, ref := range batch {
			vectors[i] = Vector{NoteID: ref.ID, UserID: ref.UserID, Embedding: embedded[i], ContentHash: ref.ContentHash}
		}
		if err := w.sink.Upsert(ctx, vectors); err != nil {
			slog.Warn("store batch failed", "error", err, "batch_start", start)
			continue
		}
		total += len(vectors)
	}
	return total, nil
}
