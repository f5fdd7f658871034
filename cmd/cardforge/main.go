package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"codeberg.org/akova/cardforge/internal/audio"
	"codeberg.org/akova/cardforge/internal/cache"
	"codeberg.org/akova/cardforge/internal/cli"
	"codeberg.org/akova/cardforge/internal/deck"
	"codeberg.org/akova/cardforge/internal/enrich"
	"codeberg.org/akova/cardforge/internal/image"
	"codeberg.org/akova/cardforge/internal/invoker"
	"codeberg.org/akova/cardforge/internal/pipeline"
	"codeberg.org/akova/cardforge/internal/progress"
	"codeberg.org/akova/cardforge/internal/wordlist"
)

func main() {
	flags := cli.NewFlags()
	rootCmd := cli.CreateRootCommand(flags)

	cobra.OnInitialize(func() {
		cli.InitConfig(flags.CfgFile)
	})

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runCommand(cmd.Context(), args, flags)
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func runCommand(ctx context.Context, args []string, flags *cli.Flags) error {
	if err := os.MkdirAll(flags.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	store, err := progress.Open(filepath.Join(flags.OutputDir, "progress.db"))
	if err != nil {
		return err
	}
	defer store.Close()

	if len(args) > 0 {
		entries, err := wordlist.ReadFile(args[0])
		if err != nil {
			return err
		}
		total, err := wordlist.Seed(ctx, store, entries)
		if err != nil {
			return err
		}
		fmt.Printf("Seeded %d entries, %d words in list\n", len(entries), total)
	}

	if flags.Status {
		return printStatus(ctx, store)
	}

	if flags.Deck {
		return assembleDeck(ctx, store, flags)
	}

	return runBatch(ctx, store, flags)
}

func runBatch(ctx context.Context, store *progress.Store, flags *cli.Flags) error {
	apiKey := cli.GetOpenAIKey()
	if apiKey == "" {
		return fmt.Errorf("OpenAI API key not found (set OPENAI_API_KEY or openai.api_key in config)")
	}

	client := openai.NewClient(apiKey)

	inv := invoker.New(invoker.DefaultPolicy(), invoker.WithBreaker(invoker.BreakerSettings{
		Name:             "openai",
		FailureThreshold: uint32(viper.GetInt("breaker.failure_threshold")),
		RecoveryTimeout:  time.Duration(viper.GetInt("breaker.recovery_seconds")) * time.Second,
	}))

	var only progress.Stage
	if flags.Stage != "" {
		switch s := progress.Stage(flags.Stage); s {
		case progress.StageSentences, progress.StageAudio, progress.StageImages:
			only = s
		default:
			return fmt.Errorf("unknown stage %q (want sentences, audio or images)", flags.Stage)
		}
	}

	responseCache := cache.New(
		cache.WithDir(filepath.Join(flags.OutputDir, "cache")),
		cache.WithMaxEntries(viper.GetInt("cache.max_entries")),
	)

	generator := enrich.NewGenerator(client, inv, responseCache, enrich.Config{
		Model: flags.EnrichModel,
		TTL:   time.Duration(flags.CacheTTLHours) * time.Hour,
	})

	var tts audio.Provider
	if !flags.SkipAudio {
		provider, err := audio.NewProvider(&audio.Config{
			Provider:          "openai",
			OutputFormat:      flags.AudioFormat,
			OpenAIKey:         apiKey,
			OpenAIModel:       flags.OpenAIModel,
			OpenAIVoice:       flags.OpenAIVoice,
			OpenAISpeed:       flags.OpenAISpeed,
			OpenAIInstruction: flags.OpenAIInstruction,
		})
		if err != nil {
			return err
		}
		tts = provider
	}

	var fetcher pipeline.ImageFetcher
	if !flags.SkipImages {
		pixabayKey := cli.GetPixabayKey()
		if pixabayKey == "" {
			fmt.Println("Warning: no Pixabay API key, skipping images (set PIXABAY_API_KEY)")
			flags.SkipImages = true
		} else {
			searcher := image.NewPixabayClient(pixabayKey)
			fetcher = image.NewDownloader(searcher, &image.DownloadOptions{
				OutputDir:         filepath.Join(flags.OutputDir, "images"),
				OverwriteExisting: flags.Force,
				MaxSizeBytes:      10 * 1024 * 1024,
			})
		}
	}

	orchestrator := pipeline.New(store, generator, tts, fetcher, inv, pipeline.Config{
		BatchSize:    flags.BatchSize,
		TargetCount:  flags.TargetCount,
		Language:     flags.Language,
		LanguageCode: flags.LanguageCode,
		OutputDir:    flags.OutputDir,
		AudioFormat:  flags.AudioFormat,
		CallTimeout:  time.Duration(viper.GetInt("batch.call_timeout_seconds")) * time.Second,
		OnlyStage:    only,
		SkipAudio:    flags.SkipAudio,
		SkipImages:   flags.SkipImages,
		Force:        flags.Force,
	})

	_, err := orchestrator.Run(ctx)
	return err
}

func assembleDeck(ctx context.Context, store *progress.Store, flags *cli.Flags) error {
	assembler := deck.NewAssembler(&deck.Options{
		OutputPath:     filepath.Join(flags.OutputDir, "deck.csv"),
		IncludeHeaders: true,
	})
	added, err := assembler.LoadFromStore(ctx, store)
	if err != nil {
		return err
	}
	if err := assembler.WriteCSV(); err != nil {
		return err
	}
	fmt.Printf("Wrote %d cards to %s\n", added, filepath.Join(flags.OutputDir, "deck.csv"))
	return nil
}

func printStatus(ctx context.Context, store *progress.Store) error {
	total, err := store.WordCount(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Words in list: %d\n", total)

	for _, stage := range []progress.Stage{progress.StageSentences, progress.StageAudio, progress.StageImages} {
		item, err := store.NextIncomplete(ctx, stage)
		if err != nil {
			return err
		}
		if item == nil {
			fmt.Printf("  %-10s no work due\n", stage+":")
			continue
		}
		fmt.Printf("  %-10s next due %q (rank %d)\n", stage+":", item.Word, item.Rank)
	}
	return nil
}
