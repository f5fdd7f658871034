// Package pipeline drives the word enrichment stages in order: sentences,
// then audio, then images, with durable progress between runs.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"codeberg.org/akova/cardforge/internal/audio"
	"codeberg.org/akova/cardforge/internal/enrich"
	"codeberg.org/akova/cardforge/internal/image"
	"codeberg.org/akova/cardforge/internal/invoker"
	"codeberg.org/akova/cardforge/internal/progress"
)

// Enricher generates example sentences for a word.
type Enricher interface {
	Generate(ctx context.Context, word, language string, targetCount int) (*enrich.Result, error)
}

// ImageFetcher finds and saves one image for a search query.
type ImageFetcher interface {
	DownloadBestMatch(ctx context.Context, opts *image.SearchOptions, baseName string) (*image.SearchResult, string, error)
}

// Config holds the orchestrator's knobs.
type Config struct {
	BatchSize    int           // Max stage executions per run
	TargetCount  int           // Units requested per word
	Language     string        // Language name used in prompts (e.g. "Bulgarian")
	LanguageCode string        // ISO code for image search (e.g. "bg")
	OutputDir    string        // Root for audio/ and images/ artifacts
	AudioFormat  string        // "mp3" or "wav"
	CallTimeout  time.Duration  // Per external call
	OnlyStage    progress.Stage // When set, run just this stage
	SkipAudio    bool
	SkipImages   bool
	Force        bool // Redo stages that already have counts
}

// DefaultConfig returns the standard batch settings.
func DefaultConfig() Config {
	return Config{
		BatchSize:    25,
		TargetCount:  10,
		Language:     "Bulgarian",
		LanguageCode: "bg",
		OutputDir:    ".",
		AudioFormat:  "mp3",
		CallTimeout:  30 * time.Second,
	}
}

// Summary reports what one batch run accomplished.
type Summary struct {
	Processed int    // Stage executions that completed
	Fallback  int    // Words that got placeholder sentences
	Skipped   int    // Stage executions skipped (already done)
	Failed    int    // Words abandoned after errors
	Stopped   string // Non-empty if the batch stopped early, with the reason
}

// Orchestrator runs the pipeline over the word list.
type Orchestrator struct {
	store    *progress.Store
	enricher Enricher
	tts      audio.Provider
	images   ImageFetcher
	invoker  *invoker.Invoker
	cfg      Config
}

// New builds an Orchestrator. tts may be nil when SkipAudio is set, images
// may be nil when SkipImages is set.
func New(store *progress.Store, enricher Enricher, tts audio.Provider, images ImageFetcher, inv *invoker.Invoker, cfg Config) *Orchestrator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultConfig().CallTimeout
	}
	return &Orchestrator{
		store:    store,
		enricher: enricher,
		tts:      tts,
		images:   images,
		invoker:  inv,
		cfg:      cfg,
	}
}

// errStopBatch wraps an error that must end the batch but not the process.
type errStopBatch struct{ cause error }

func (e *errStopBatch) Error() string { return e.cause.Error() }
func (e *errStopBatch) Unwrap() error { return e.cause }

// Run executes one batch. It stops early on rate limiting, auth failures or
// an open circuit, and returns an error only for faults that invalidate the
// run itself (persistence failures, cancelled context).
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	summary := &Summary{}
	budget := o.cfg.BatchSize

	stages := []progress.Stage{progress.StageSentences, progress.StageAudio, progress.StageImages}
	for _, stage := range stages {
		if o.cfg.OnlyStage != "" && stage != o.cfg.OnlyStage {
			continue
		}
		if stage == progress.StageAudio && o.cfg.SkipAudio {
			continue
		}
		if stage == progress.StageImages && o.cfg.SkipImages {
			continue
		}
		if budget <= 0 {
			break
		}

		var prereq progress.Stage
		switch stage {
		case progress.StageAudio:
			prereq = progress.StageSentences
		case progress.StageImages:
			prereq = progress.StageAudio
			if o.cfg.SkipAudio {
				// With audio skipped, images gate on sentences instead.
				prereq = progress.StageSentences
			}
		}
		items, err := o.store.IncompleteAfter(ctx, stage, prereq, budget)
		if err != nil {
			return summary, err
		}

		for i := range items {
			if budget <= 0 {
				break
			}
			item := &items[i]
			budget--

			err := o.runStage(ctx, stage, item, summary)
			if err == nil {
				summary.Processed++
				continue
			}

			var pe *progress.PersistenceError
			if errors.As(err, &pe) {
				return summary, err
			}
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}

			var stop *errStopBatch
			if errors.As(err, &stop) {
				summary.Stopped = stop.cause.Error()
				fmt.Printf("Batch stopped: %v\n", stop.cause)
				o.printSummary(summary)
				return summary, nil
			}

			summary.Failed++
			fmt.Printf("  Warning: %s stage failed for %q: %v\n", stage, item.Word, err)
		}
	}

	o.printSummary(summary)
	return summary, nil
}

func (o *Orchestrator) runStage(ctx context.Context, stage progress.Stage, item *progress.WorkItem, summary *Summary) error {
	fmt.Printf("Processing %q (rank %d): %s\n", item.Word, item.Rank, stage)

	switch stage {
	case progress.StageSentences:
		return o.runSentences(ctx, item, summary)
	case progress.StageAudio:
		return o.runAudio(ctx, item)
	case progress.StageImages:
		return o.runImages(ctx, item)
	}
	return fmt.Errorf("unknown stage %q", stage)
}

func (o *Orchestrator) runSentences(ctx context.Context, item *progress.WorkItem, summary *Summary) error {
	cctx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()

	result, err := o.enricher.Generate(cctx, item.Word, o.cfg.Language, o.cfg.TargetCount)
	if err != nil {
		if invoker.IsBatchStop(err) {
			return &errStopBatch{cause: err}
		}
		return err
	}
	if result.LowConfidence {
		summary.Fallback++
	}

	units := make([]progress.Unit, len(result.Units))
	for i, u := range result.Units {
		units[i] = progress.Unit{
			Meaning:     result.Meaning,
			Text:        u.Text,
			Phonetic:    u.Phonetic,
			Translation: u.Translation,
		}
	}

	count := len(units)
	err = o.store.AppendUnits(ctx, item.Rank, item.Word, units)
	if err != nil && !errors.Is(err, progress.ErrUnitsExist) {
		return err
	}
	if errors.Is(err, progress.ErrUnitsExist) {
		// Rows survive from a run that died before the counter was set. The
		// counter must reflect what is stored, not this regeneration.
		fmt.Printf("  units already present for %q, keeping existing rows\n", item.Word)
		rows, err := o.store.UnitRows(ctx, item.Rank)
		if err != nil {
			return err
		}
		count = len(rows)
	}

	wrote, err := o.store.MarkStageCount(ctx, item.Rank, progress.StageSentences, count, o.cfg.Force)
	if err != nil {
		return err
	}
	if !wrote {
		summary.Skipped++
	}
	fmt.Printf("  %d sentences recorded for %q\n", count, item.Word)
	return nil
}

func (o *Orchestrator) runAudio(ctx context.Context, item *progress.WorkItem) error {
	rows, err := o.store.UnitRows(ctx, item.Rank)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("no unit rows for %q", item.Word)
	}

	done := 0
	for _, row := range rows {
		if row.AudioTag != "" && !o.cfg.Force {
			done++
			continue
		}

		file := filepath.Join(o.cfg.OutputDir, "audio", row.ID+"."+o.cfg.AudioFormat)
		err := o.invoker.Invoke(ctx, func(ctx context.Context) error {
			cctx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
			defer cancel()
			return o.tts.Synthesize(cctx, row.Text, file)
		})
		if err != nil {
			if invoker.IsBatchStop(err) {
				return &errStopBatch{cause: err}
			}
			fmt.Printf("  Warning: audio failed for unit %s: %v\n", row.ID, err)
			continue
		}
		if err := audio.ValidateOutput(file); err != nil {
			fmt.Printf("  Warning: rejecting audio for unit %s: %v\n", row.ID, err)
			continue
		}
		if err := o.store.SetUnitTag(ctx, row.ID, progress.StageAudio, filepath.Base(file)); err != nil {
			return err
		}
		done++
	}

	if done == 0 {
		return fmt.Errorf("no audio produced for %q", item.Word)
	}
	if _, err := o.store.MarkStageCount(ctx, item.Rank, progress.StageAudio, done, o.cfg.Force); err != nil {
		return err
	}
	fmt.Printf("  %d audio files recorded for %q\n", done, item.Word)
	return nil
}

func (o *Orchestrator) runImages(ctx context.Context, item *progress.WorkItem) error {
	rows, err := o.store.UnitRows(ctx, item.Rank)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("no unit rows for %q", item.Word)
	}

	// English translations search far better than rare-language words, so
	// prefer the translation when the list provides one.
	query := item.Word
	lang := o.cfg.LanguageCode
	if item.Translation != "" {
		query = item.Translation
		lang = "en"
	}

	opts := image.DefaultSearchOptions(query, lang)
	cctx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()

	_, path, err := o.images.DownloadBestMatch(cctx, opts, fmt.Sprintf("%04d_%s", item.Rank, item.Word))
	if err != nil {
		var rl *image.RateLimitError
		if errors.As(err, &rl) {
			return &errStopBatch{cause: err}
		}
		return err
	}

	// One illustration per word, shared by all of its cards.
	for _, row := range rows {
		if err := o.store.SetUnitTag(ctx, row.ID, progress.StageImages, filepath.Base(path)); err != nil {
			return err
		}
	}
	if _, err := o.store.MarkStageCount(ctx, item.Rank, progress.StageImages, 1, o.cfg.Force); err != nil {
		return err
	}
	fmt.Printf("  image %s recorded for %q\n", filepath.Base(path), item.Word)
	return nil
}

func (o *Orchestrator) printSummary(s *Summary) {
	fmt.Println("\n=== Batch Summary ===")
	fmt.Printf("  Processed: %d\n", s.Processed)
	fmt.Printf("  Fallback:  %d\n", s.Fallback)
	fmt.Printf("  Skipped:   %d\n", s.Skipped)
	fmt.Printf("  Failed:    %d\n", s.Failed)
	if s.Stopped != "" {
		fmt.Printf("  Stopped:   %s\n", s.Stopped)
	}
}
