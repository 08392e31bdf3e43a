package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/mohammad-safakhou/docrelay/models"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func sampleResult(id string) *Result {
	return &Result{
		ID: id,
		Results: []FileResult{
			{
				Filename:     "cert.pdf",
				DocumentType: "certificate-of-fitness",
				Success:      true,
				Data:         json.RawMessage(`{"patient":{"name":"J. Smith"}}`),
				Markdown:     "**Initials & Surname**: J. Smith",
				Chunks: []models.Chunk{{
					ID:        "c-1",
					Type:      "text",
					Text:      "J. Smith",
					Grounding: []models.Grounding{{Page: 0, Box: models.Box{Left: 0.1, Top: 0.2, Right: 0.3, Bottom: 0.4}}},
				}},
				Answer:         &models.Answer{Answer: "fit", Reasoning: "box ticked", SupportingChunks: []string{"c-1"}},
				ProcessingTime: 1.25,
			},
			{Filename: "broken.png", Success: false, Error: "extraction failed"},
		},
	}
}

func TestMemoryStorePutGetReturnsStoredPayload(t *testing.T) {
	clock := newClock()
	s := NewMemoryStore(time.Hour, WithClock(clock.Now))
	ctx := context.Background()

	in := sampleResult("")
	id, err := s.Put(ctx, in)
	require.NoError(t, err)
	require.Len(t, id, 8)
	require.Equal(t, id, in.ID)

	clock.Advance(59 * time.Minute)
	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, got.Status)
	require.True(t, got.StoredAt.Equal(clock.t.Add(-59*time.Minute)))
	if diff := cmp.Diff(sampleResult("").Results, got.Results); diff != "" {
		t.Fatalf("payload mismatch (-want +got):\n%s", diff)
	}
}

func TestMemoryStoreCallerSuppliedID(t *testing.T) {
	s := NewMemoryStore(time.Hour)
	id, err := s.Put(context.Background(), sampleResult("my-batch"))
	require.NoError(t, err)
	require.Equal(t, "my-batch", id)

	_, err = s.Get(context.Background(), "my-batch")
	require.NoError(t, err)
}

func TestMemoryStoreExpiredAndUnknownAreNotFound(t *testing.T) {
	clock := newClock()
	s := NewMemoryStore(time.Hour, WithClock(clock.Now))
	ctx := context.Background()

	id, err := s.Put(ctx, sampleResult(""))
	require.NoError(t, err)

	_, err = s.Get(ctx, "nope")
	require.ErrorIs(t, err, ErrNotFound)

	clock.Advance(time.Hour + time.Second)
	_, err = s.Get(ctx, id)
	require.ErrorIs(t, err, ErrNotFound)

	n, err := s.Len(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestMemoryStoreExactlyAtRetentionIsStillLive(t *testing.T) {
	clock := newClock()
	s := NewMemoryStore(time.Hour, WithClock(clock.Now))
	id, err := s.Put(context.Background(), sampleResult(""))
	require.NoError(t, err)

	clock.Advance(time.Hour)
	_, err = s.Get(context.Background(), id)
	require.NoError(t, err)
}

func TestMemoryStoreDeleteOnce(t *testing.T) {
	s := NewMemoryStore(time.Hour)
	ctx := context.Background()
	id, err := s.Put(ctx, sampleResult(""))
	require.NoError(t, err)

	existed, err := s.Delete(ctx, id)
	require.NoError(t, err)
	require.True(t, existed)

	existed, err = s.Delete(ctx, id)
	require.NoError(t, err)
	require.False(t, existed)

	_, err = s.Get(ctx, id)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreDeleteExpiredReportsMissing(t *testing.T) {
	clock := newClock()
	s := NewMemoryStore(time.Hour, WithClock(clock.Now))
	id, err := s.Put(context.Background(), sampleResult(""))
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)
	existed, err := s.Delete(context.Background(), id)
	require.NoError(t, err)
	require.False(t, existed)
}

func TestMemoryStoreSweepRemovesOnlyExpired(t *testing.T) {
	clock := newClock()
	s := NewMemoryStore(time.Hour, WithClock(clock.Now))
	ctx := context.Background()

	old, err := s.Put(ctx, sampleResult(""))
	require.NoError(t, err)
	clock.Advance(30 * time.Minute)
	fresh, err := s.Put(ctx, sampleResult(""))
	require.NoError(t, err)

	removed, err := s.Sweep(ctx, clock.Now().Add(31*time.Minute))
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, err = s.Get(ctx, old)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(ctx, fresh)
	require.NoError(t, err)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := NewMemoryStore(time.Hour)
	ctx := context.Background()
	in := sampleResult("")
	id, err := s.Put(ctx, in)
	require.NoError(t, err)

	in.Results[0].Filename = "mutated"
	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	got.Results[0].Chunks[0].Text = "mutated"
	got.Results[0].Answer.SupportingChunks[0] = "mutated"

	again, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "cert.pdf", again.Results[0].Filename)
	require.Equal(t, "J. Smith", again.Results[0].Chunks[0].Text)
	require.Equal(t, "c-1", again.Results[0].Answer.SupportingChunks[0])
}

func TestMemoryStoreConcurrentPuts(t *testing.T) {
	s := NewMemoryStore(time.Hour)
	ctx := context.Background()

	const workers, perWorker = 16, 50
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id := fmt.Sprintf("w%d-%d", w, i)
				_, err := s.Put(ctx, &Result{ID: id, Results: []FileResult{{Filename: id, Success: true}}})
				if err != nil {
					t.Errorf("put %s: %v", id, err)
				}
			}
		}(w)
	}
	wg.Wait()

	n, err := s.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, workers*perWorker, n)
	for w := 0; w < workers; w++ {
		for i := 0; i < perWorker; i++ {
			id := fmt.Sprintf("w%d-%d", w, i)
			got, err := s.Get(ctx, id)
			require.NoError(t, err)
			require.Equal(t, id, got.Results[0].Filename)
		}
	}
}

func TestResultCounts(t *testing.T) {
	ok, failed := sampleResult("").Counts()
	require.Equal(t, 1, ok)
	require.Equal(t, 1, failed)

	fr, found := sampleResult("").File("broken.png")
	require.True(t, found)
	require.Equal(t, "extraction failed", fr.Error)
}
