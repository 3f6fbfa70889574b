package embeddings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nous-labs/scribe/pkg/store"
)

type fakeEmbedder struct {
	err   error
	calls int
}

func (f *fakeEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 0}, nil
}

func (f *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i), 1}
	}
	return out, nil
}

type fakeNotes struct {
	notes   map[string]store.Note
	keyword []string
	err     error
}

func (f *fakeNotes) SearchNotes(_ context.Context, _, _ string, limit int) ([]store.Note, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []store.Note
	for _, id := range f.keyword {
		out = append(out, f.notes[id])
	}
	return head(out, limit), nil
}

func (f *fakeNotes) NotesByIDs(_ context.Context, _ string, ids []string) ([]store.Note, error) {
	var out []store.Note
	for _, id := range ids {
		if n, ok := f.notes[id]; ok {
			out = append(out, n)
		}
	}
	return out, nil
}

type fakeIndex struct {
	matches []Match
	err     error
}

func (f *fakeIndex) Search(context.Context, string, []float32, int) ([]Match, error) {
	return f.matches, f.err
}

func testNotes(now time.Time) map[string]store.Note {
	return map[string]store.Note{
		"a": {ID: "a", Text: "бюджет проекта", UpdatedAt: now},
		"b": {ID: "b", Text: "смета на квартал", UpdatedAt: now},
		"c": {ID: "c", Text: "купить молоко", UpdatedAt: now},
	}
}

func TestReciprocalRankFusion(t *testing.T) {
	fused := reciprocalRankFusion([][]string{{"a", "b"}, {"b", "c"}}, rrfK)

	require.Len(t, fused, 3)
	assert.Equal(t, "b", fused[0].NoteID)
	assert.InDelta(t, 1.0/62+1.0/61, fused[0].Score, 1e-12)
	assert.Equal(t, "a", fused[1].NoteID)
	assert.Equal(t, "c", fused[2].NoteID)
}

func TestSearchFusesBothSources(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	notes := &fakeNotes{notes: testNotes(now), keyword: []string{"a"}}
	index := &fakeIndex{matches: []Match{{NoteID: "b", Distance: 0.1}, {NoteID: "a", Distance: 0.2}}}
	s := NewSearcher(notes, index, &fakeEmbedder{})
	s.now = func() time.Time { return now }

	got, err := s.SearchNotes(context.Background(), "u1", "бюджет", 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
}

func TestSearchPrefersFreshNotes(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	all := testNotes(now)
	stale := all["a"]
	stale.UpdatedAt = now.AddDate(-1, 0, 0)
	all["a"] = stale
	notes := &fakeNotes{notes: all}
	index := &fakeIndex{matches: []Match{{NoteID: "a"}, {NoteID: "b"}}}
	s := NewSearcher(notes, index, &fakeEmbedder{})
	s.now = func() time.Time { return now }

	got, err := s.SearchNotes(context.Background(), "u1", "q", 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
}

func TestSearchDegrades(t *testing.T) {
	now := time.Now()
	notes := &fakeNotes{notes: testNotes(now), keyword: []string{"c", "a"}}

	s := NewSearcher(notes, &fakeIndex{}, &fakeEmbedder{err: errors.New("tei down")})
	got, err := s.SearchNotes(context.Background(), "u1", "q", 1)
	require.NoError(t, err)
	assert.Equal(t, []store.Note{notes.notes["c"]}, got)

	s = NewSearcher(notes, &fakeIndex{err: errors.New("pg down")}, &fakeEmbedder{})
	got, err = s.SearchNotes(context.Background(), "u1", "q", 5)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	notes.err = errors.New("sqlite down")
	_, err = s.SearchNotes(context.Background(), "u1", "q", 5)
	assert.Error(t, err)
}

type fakeRefs []store.NoteRef

func (f fakeRefs) NoteRefs(context.Context) ([]store.NoteRef, error) { return f, nil }

type fakeSink struct {
	hashes  map[string]string
	upserts []Vector
	deleted []string
}

func (f *fakeSink) Hashes(context.Context) (map[string]string, error) { return f.hashes, nil }

func (f *fakeSink) Upsert(_ context.Context, v []Vector) error {
	f.upserts = append(f.upserts, v...)
	return nil
}

func (f *fakeSink) Delete(_ context.Context, ids []string) error {
	f.deleted = append(f.deleted, ids...)
	return nil
}

func TestSyncOnce(t *testing.T) {
	refs := fakeRefs{
		{ID: "fresh", UserID: "u1", Text: "x", ContentHash: store.ContentHash("x")},
		{ID: "edited", UserID: "u1", Text: "new", ContentHash: store.ContentHash("new")},
		{ID: "new", UserID: "u2", Text: "y", ContentHash: store.ContentHash("y")},
	}
	sink := &fakeSink{hashes: map[string]string{
		"fresh":   store.ContentHash("x"),
		"edited":  store.ContentHash("old"),
		"removed": "h",
	}}
	emb := &fakeEmbedder{}
	w := NewSyncWorker(refs, sink, emb, 0, 1)

	n, err := w.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, emb.calls)
	assert.Equal(t, []string{"removed"}, sink.deleted)
	require.Len(t, sink.upserts, 2)
	assert.Equal(t, "edited", sink.upserts[0].NoteID)
	assert.Equal(t, "u2", sink.upserts[1].UserID)
}

func TestSyncOnceSkipsFailedBatch(t *testing.T) {
	refs := fakeRefs{{ID: "n", Text: "t", ContentHash: "h"}}
	sink := &fakeSink{hashes: map[string]string{}}
	n, err := NewSyncWorker(refs, sink, &fakeEmbedder{err: errors.New("boom")}, time.Minute, 8).SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, sink.upserts)
}
