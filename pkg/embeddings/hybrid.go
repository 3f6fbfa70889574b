package embeddings

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nous-labs/scribe/pkg/store"
)

const (
	// rrfK is the Reciprocal Rank Fusion smoothing constant (Cormack et al. 2009).
	rrfK = 60
	// overFetch widens each source before fusion.
	overFetch = 3
	// halfLifeDays controls how quickly old notes lose rank.
	halfLifeDays = 30.0
)

// NoteSource is the keyword side of hybrid search.
type NoteSource interface {
	SearchNotes(ctx context.Context, userID, query string, limit int) ([]store.Note, error)
	NotesByIDs(ctx context.Context, userID string, ids []string) ([]store.Note, error)
}

// VectorIndex is the semantic side of hybrid search.
type VectorIndex interface {
	Search(ctx context.Context, userID string, query []float32, limit int) ([]Match, error)
}

// Searcher runs hybrid note search.
type Searcher struct {
	notes    NoteSource
	vectors  VectorIndex
	embedder Embedder
	now      func() time.Time
}

// NewSearcher creates a Searcher.
func NewSearcher(notes NoteSource, vectors VectorIndex, embedder Embedder) *Searcher {
	return &Searcher{notes: notes, vectors: vectors, embedder: embedder, now: time.Now}
}

type ranked struct {
	NoteID string
	Score  float64
}

// SearchNotes returns a user's notes matching query, best first. Vector and
// keyword hits are fetched concurrently and fused with RRF; when one side
// fails the other side's results are returned alone.
func (s *Searcher) SearchNotes(ctx context.Context, userID, query string, limit int) ([]store.Note, error) {
	vec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		slog.Warn("semantic embed failed, falling back to keyword-only", "error", err)
		return s.notes.SearchNotes(ctx, userID, query, limit)
	}

	fetch := limit * overFetch
	var (
		matches           []Match
		keyword           []store.Note
		vectorErr, keyErr error
	)
	var g errgroup.Group
	g.Go(func() error {
		matches, vectorErr = s.vectors.Search(ctx, userID, vec, fetch)
		return nil
	})
	g.Go(func() error {
		keyword, keyErr = s.notes.SearchNotes(ctx, userID, query, fetch)
		return nil
	})
	g.Wait()

	switch {
	case vectorErr != nil && keyErr != nil:
		return nil, vectorErr
	case vectorErr != nil:
		slog.Warn("vector search failed, using keyword-only", "error", vectorErr)
		return head(keyword, limit), nil
	}
	if keyErr != nil {
		slog.Warn("keyword search failed, using vector-only", "error", keyErr)
	}

	vectorIDs := make([]string, len(matches))
	for i, m := range matches {
		vectorIDs[i] = m.NoteID
	}
	keywordIDs := make([]string, len(keyword))
	for i, n := range keyword {
		keywordIDs[i] = n.ID
	}
	fused := reciprocalRankFusion([][]string{vectorIDs, keywordIDs}, rrfK)

	ids := make([]string, len(fused))
	for i, r := range fused {
		ids[i] = r.NoteID
	}
	notes, err := s.notes.NotesByIDs(ctx, userID, ids)
	if err != nil {
		return nil, err
	}

	score := make(map[string]float64, len(fused))
	for _, r := range fused {
		score[r.NoteID] = r.Score
	}
	now := s.now()
	sort.SliceStable(notes, func(i, j int) bool {
		return score[notes[i].ID]*freshness(notes[i], now) > score[notes[j].ID]*freshness(notes[j], now)
	})
	return head(notes, limit), nil
}

// freshness is 1 for a note edited now and decays toward 0.7.
func freshness(n store.Note, now time.Time) float64 {
	ageDays := now.Sub(n.UpdatedAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	staleness := 1 - math.Exp(-math.Ln2*ageDays/halfLifeDays)
	return 1 - 0.3*staleness
}

// reciprocalRankFusion merges ranked ID lists: score(d) = Σ 1/(k + rank(d)).
func reciprocalRankFusion(lists [][]string, k int) []ranked {
	scores := make(map[string]float64)
	for _, list := range lists {
		for rank, id := range list {
			scores[id] += 1.0 / (float64(k) + float64(rank+1))
		}
	}

	fused := make([]ranked, 0, len(scores))
	for id, score := range scores {
		fused = append(fused, ranked{NoteID: id, Score: score})
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		return fused[i].NoteID < fused[j].NoteID
	})
	return fused
}

func head[T any](v []T, n int) []T {
	if n > 0 && len(v) > n {
		return v[:n]
	}
	return v
}
