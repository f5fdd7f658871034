package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/akova/cardforge/internal/audio"
	"codeberg.org/akova/cardforge/internal/enrich"
	"codeberg.org/akova/cardforge/internal/image"
	"codeberg.org/akova/cardforge/internal/invoker"
	"codeberg.org/akova/cardforge/internal/progress"
)

type fakeEnricher struct {
	calls   int
	err     error
	lowConf bool
}

func (f *fakeEnricher) Generate(_ context.Context, word, _ string, targetCount int) (*enrich.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.lowConf {
		return enrich.Fallback(word, targetCount), nil
	}
	units := make([]enrich.Unit, targetCount)
	for i := range units {
		units[i] = enrich.Unit{
			Text:        fmt.Sprintf("Изречение %d с %s.", i+1, word),
			Translation: fmt.Sprintf("Sentence %d with %s.", i+1, word),
		}
	}
	return &enrich.Result{Word: word, Meaning: "a thing", Units: units}, nil
}

type fakeTTS struct {
	calls int
	err   error
	runt  bool // write a file too small to validate
}

func (f *fakeTTS) Synthesize(_ context.Context, _ string, outputFile string) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return err
	}
	data := []byte("ID3 truncated")
	if !f.runt {
		data = make([]byte, audio.MinOutputBytes+64)
		copy(data, "ID3")
	}
	return os.WriteFile(outputFile, data, 0644)
}

func (f *fakeTTS) Name() string       { return "fake" }
func (f *fakeTTS) IsAvailable() error { return nil }

type fakeFetcher struct {
	calls int
	err   error
	dir   string
}

func (f *fakeFetcher) DownloadBestMatch(_ context.Context, _ *image.SearchOptions, baseName string) (*image.SearchResult, string, error) {
	f.calls++
	if f.err != nil {
		return nil, "", f.err
	}
	path := filepath.Join(f.dir, baseName+".jpg")
	return &image.SearchResult{ID: "1", Source: "fake"}, path, nil
}

func testStore(t *testing.T, words ...string) *progress.Store {
	t.Helper()
	store, err := progress.Open(filepath.Join(t.TempDir(), "progress.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()
	for i, w := range words {
		if err := store.SeedWord(ctx, i+1, w, ""); err != nil {
			t.Fatal(err)
		}
	}
	return store
}

func testConfig(t *testing.T) Config {
	cfg := DefaultConfig()
	cfg.TargetCount = 3
	cfg.OutputDir = t.TempDir()
	cfg.CallTimeout = time.Second
	return cfg
}

func fastInvoker() *invoker.Invoker {
	return invoker.New(invoker.Policy{
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		MaxJitter:   time.Millisecond,
	})
}

func TestRunCompletesAllStagesInOneBatch(t *testing.T) {
	store := testStore(t, "котка")
	cfg := testConfig(t)
	fetcher := &fakeFetcher{dir: cfg.OutputDir}
	o := New(store, &fakeEnricher{}, &fakeTTS{}, fetcher, fastInvoker(), cfg)

	summary, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if summary.Processed != 3 {
		t.Errorf("processed = %d, want 3 stage executions", summary.Processed)
	}
	if summary.Failed != 0 || summary.Stopped != "" {
		t.Errorf("summary = %+v", summary)
	}

	ctx := context.Background()
	item, err := store.Word(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if item.Sentences != 3 || item.Audio != 3 || item.Images != 1 {
		t.Errorf("counters = %d/%d/%d, want 3/3/1", item.Sentences, item.Audio, item.Images)
	}

	rows, err := store.UnitRows(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d unit rows", len(rows))
	}
	if rows[0].AudioTag == "" || rows[0].ImageTag == "" {
		t.Errorf("unit tags not set: %+v", rows[0])
	}

	// Nothing left to do: a second run is a no-op.
	summary, err = o.Run(ctx)
	if err != nil {
		t.Fatalf("second Run() failed: %v", err)
	}
	if summary.Processed != 0 {
		t.Errorf("second run processed %d, want 0", summary.Processed)
	}
}

func TestRunRespectsBatchBudget(t *testing.T) {
	store := testStore(t, "едно", "две", "три")
	cfg := testConfig(t)
	cfg.BatchSize = 2
	cfg.SkipAudio = true
	cfg.SkipImages = true
	enricher := &fakeEnricher{}
	o := New(store, enricher, nil, nil, fastInvoker(), cfg)

	summary, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if summary.Processed != 2 {
		t.Errorf("processed = %d, want 2", summary.Processed)
	}
	if enricher.calls != 2 {
		t.Errorf("enricher called %d times, want 2", enricher.calls)
	}

	item, err := store.Word(context.Background(), 3)
	if err != nil {
		t.Fatal(err)
	}
	if item.Sentences != 0 {
		t.Error("third word processed beyond the batch budget")
	}
}

func TestRunStopsBatchOnRateLimit(t *testing.T) {
	store := testStore(t, "едно", "две")
	cfg := testConfig(t)
	cfg.SkipAudio = true
	cfg.SkipImages = true
	enricher := &fakeEnricher{err: &invoker.RateLimitedError{Provider: "openai", Message: "slow down"}}
	o := New(store, enricher, nil, nil, fastInvoker(), cfg)

	summary, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}
	if summary.Stopped == "" {
		t.Error("summary not marked stopped")
	}
	if enricher.calls != 1 {
		t.Errorf("enricher called %d times after rate limit, want 1", enricher.calls)
	}
}

func TestRunStopsBatchOnImageRateLimit(t *testing.T) {
	store := testStore(t, "котка")
	cfg := testConfig(t)
	cfg.SkipAudio = true
	fetcher := &fakeFetcher{err: &image.RateLimitError{Provider: "pixabay"}}
	o := New(store, &fakeEnricher{}, nil, fetcher, fastInvoker(), cfg)

	// Sentences succeed, then the image stage hits the limit.
	summary, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}
	if summary.Stopped == "" {
		t.Error("summary not marked stopped")
	}
	if summary.Processed != 1 {
		t.Errorf("processed = %d, want the sentences stage only", summary.Processed)
	}
}

func TestRunSkipsFailedWordAndContinues(t *testing.T) {
	store := testStore(t, "едно", "две")
	cfg := testConfig(t)
	cfg.SkipImages = true
	tts := &fakeTTS{runt: true} // every file fails validation
	o := New(store, &fakeEnricher{}, tts, nil, fastInvoker(), cfg)

	summary, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	// Sentences for both words succeed, audio fails for both.
	if summary.Processed != 2 {
		t.Errorf("processed = %d, want 2", summary.Processed)
	}
	if summary.Failed != 2 {
		t.Errorf("failed = %d, want 2", summary.Failed)
	}

	item, err := store.Word(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if item.Audio != 0 {
		t.Error("rejected audio still advanced the counter")
	}
}

func TestRunCountsFallbackWords(t *testing.T) {
	store := testStore(t, "котка")
	cfg := testConfig(t)
	cfg.SkipAudio = true
	cfg.SkipImages = true
	o := New(store, &fakeEnricher{lowConf: true}, nil, nil, fastInvoker(), cfg)

	summary, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if summary.Fallback != 1 {
		t.Errorf("fallback = %d, want 1", summary.Fallback)
	}
}

func TestRunPartialAudioCountsHonestly(t *testing.T) {
	store := testStore(t, "котка")
	ctx := context.Background()

	// Seed sentences by hand, then make one unit's text empty so TTS fails
	// for it but succeeds for the others.
	units := []progress.Unit{
		{Text: "Котката спи.", Translation: "The cat sleeps."},
		{Text: "Имам котка.", Translation: "I have a cat."},
	}
	if err := store.AppendUnits(ctx, 1, "котка", units); err != nil {
		t.Fatal(err)
	}
	if _, err := store.MarkStageCount(ctx, 1, progress.StageSentences, 2, false); err != nil {
		t.Fatal(err)
	}
	if err := store.SetUnitTag(ctx, "0001_котка_00", progress.StageAudio, "already.mp3"); err != nil {
		t.Fatal(err)
	}

	cfg := testConfig(t)
	cfg.SkipImages = true
	tts := &fakeTTS{}
	o := New(store, &fakeEnricher{}, tts, nil, fastInvoker(), cfg)

	if _, err := o.Run(ctx); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	// Unit 00 already had audio, only unit 01 needed synthesis.
	if tts.calls != 1 {
		t.Errorf("tts called %d times, want 1", tts.calls)
	}
	item, err := store.Word(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if item.Audio != 2 {
		t.Errorf("audio count = %d, want 2", item.Audio)
	}
}

func TestRunOnlyStageRunsSingleStage(t *testing.T) {
	store := testStore(t, "котка")
	cfg := testConfig(t)
	cfg.OnlyStage = progress.StageSentences
	tts := &fakeTTS{}
	fetcher := &fakeFetcher{dir: cfg.OutputDir}
	enricher := &fakeEnricher{}
	o := New(store, enricher, tts, fetcher, fastInvoker(), cfg)

	summary, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if summary.Processed != 1 {
		t.Errorf("processed = %d, want 1", summary.Processed)
	}
	if enricher.calls != 1 {
		t.Errorf("enricher called %d times, want 1", enricher.calls)
	}
	if tts.calls != 0 || fetcher.calls != 0 {
		t.Errorf("later stages ran: tts=%d fetcher=%d", tts.calls, fetcher.calls)
	}

	ctx := context.Background()
	item, err := store.Word(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if item.Sentences != 3 || item.Audio != 0 || item.Images != 0 {
		t.Errorf("counters = %d/%d/%d, want 3/0/0", item.Sentences, item.Audio, item.Images)
	}
}

func TestRunRecoversCounterFromStoredRows(t *testing.T) {
	store := testStore(t, "котка")
	cfg := testConfig(t)
	cfg.SkipAudio = true
	cfg.SkipImages = true
	ctx := context.Background()

	// Rows from an earlier run that died before the counter was written.
	stored := []progress.Unit{
		{Meaning: "cat", Text: "Котката спи.", Translation: "The cat is sleeping."},
		{Meaning: "cat", Text: "Имам котка.", Translation: "I have a cat."},
	}
	if err := store.AppendUnits(ctx, 1, "котка", stored); err != nil {
		t.Fatal(err)
	}

	// The fresh generation produces 3 units, but the 2 stored rows win.
	o := New(store, &fakeEnricher{}, nil, nil, fastInvoker(), cfg)
	if _, err := o.Run(ctx); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	item, err := store.Word(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if item.Sentences != 2 {
		t.Errorf("sentences count = %d, want 2 (the stored rows)", item.Sentences)
	}
	rows, err := store.UnitRows(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Errorf("got %d unit rows, want the 2 stored", len(rows))
	}
}
