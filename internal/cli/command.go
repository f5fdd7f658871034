package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"codeberg.org/akova/cardforge/internal"
)

// CreateRootCommand creates and configures the root cobra command
func CreateRootCommand(flags *Flags) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cardforge [wordlist]",
		Short: "Flashcard material pipeline for language learners",
		Long: `cardforge turns a frequency-ordered word list into flashcard decks.

For each word it generates example sentences with an LLM, synthesizes
audio with OpenAI TTS, and downloads an illustration image. Progress is
stored in SQLite so interrupted runs resume where they left off, and
API responses are cached on disk so re-runs do not pay twice.

Examples:
  cardforge words.txt             # Seed the list and run one batch
  cardforge                       # Continue where the last run stopped
  cardforge --status              # Show what is due next
  cardforge --deck                # Assemble deck.csv from finished work`,
		Args:    cobra.MaximumNArgs(1),
		Version: internal.Version,
	}

	setupFlags(rootCmd, flags)

	return rootCmd
}

func setupFlags(cmd *cobra.Command, flags *Flags) {
	home, _ := os.UserHomeDir()
	defaultOutputDir := filepath.Join(home, ".local", "state", "cardforge")

	// Global flags
	cmd.PersistentFlags().StringVar(&flags.CfgFile, "config", "", "config file (default is $HOME/.cardforge.yaml)")

	// Local flags
	cmd.Flags().StringVarP(&flags.OutputDir, "output", "o", defaultOutputDir, "Output directory")
	cmd.Flags().BoolVar(&flags.Status, "status", false, "Show progress and exit")
	cmd.Flags().BoolVar(&flags.Deck, "deck", false, "Assemble deck.csv after the batch")
	cmd.Flags().BoolVar(&flags.Force, "force", false, "Redo stages that already have results")
	cmd.Flags().BoolVar(&flags.SkipAudio, "skip-audio", false, "Skip audio synthesis")
	cmd.Flags().BoolVar(&flags.SkipImages, "skip-images", false, "Skip image download")
	cmd.Flags().IntVar(&flags.BatchSize, "batch-size", flags.BatchSize, "Max stage executions per run")
	cmd.Flags().IntVar(&flags.TargetCount, "target-count", flags.TargetCount, "Example sentences requested per word")
	cmd.Flags().StringVar(&flags.Stage, "stage", "", "Run only one stage: sentences, audio or images")

	// Enrichment flags
	cmd.Flags().StringVar(&flags.Language, "language", flags.Language, "Language being learned (e.g. Bulgarian)")
	cmd.Flags().StringVar(&flags.LanguageCode, "language-code", flags.LanguageCode, "ISO code for image search (e.g. bg)")
	cmd.Flags().StringVar(&flags.EnrichModel, "enrich-model", flags.EnrichModel, "OpenAI chat model for sentence generation")
	cmd.Flags().IntVar(&flags.CacheTTLHours, "cache-ttl", flags.CacheTTLHours, "Cache lifetime in hours for API responses")

	// Audio flags
	cmd.Flags().StringVarP(&flags.AudioFormat, "format", "f", flags.AudioFormat, "Audio format (wav or mp3)")
	cmd.Flags().StringVar(&flags.OpenAIModel, "openai-model", flags.OpenAIModel, "OpenAI TTS model: tts-1, tts-1-hd, gpt-4o-mini-tts")
	cmd.Flags().StringVar(&flags.OpenAIVoice, "openai-voice", flags.OpenAIVoice, "OpenAI voice: alloy, ash, coral, echo, nova, ...")
	cmd.Flags().Float64Var(&flags.OpenAISpeed, "openai-speed", flags.OpenAISpeed, "OpenAI speech speed (0.25 to 4.0)")
	cmd.Flags().StringVar(&flags.OpenAIInstruction, "openai-instruction", "", "Voice instructions for gpt-4o-mini-tts model")

	bindFlagsToViper(cmd)
}

func bindFlagsToViper(cmd *cobra.Command) {
	viper.BindPFlag("output.directory", cmd.Flags().Lookup("output"))
	viper.BindPFlag("batch.size", cmd.Flags().Lookup("batch-size"))
	viper.BindPFlag("batch.target_count", cmd.Flags().Lookup("target-count"))
	viper.BindPFlag("enrich.language", cmd.Flags().Lookup("language"))
	viper.BindPFlag("enrich.language_code", cmd.Flags().Lookup("language-code"))
	viper.BindPFlag("enrich.model", cmd.Flags().Lookup("enrich-model"))
	viper.BindPFlag("cache.ttl_hours", cmd.Flags().Lookup("cache-ttl"))
	viper.BindPFlag("audio.format", cmd.Flags().Lookup("format"))
	viper.BindPFlag("audio.model", cmd.Flags().Lookup("openai-model"))
	viper.BindPFlag("audio.voice", cmd.Flags().Lookup("openai-voice"))
	viper.BindPFlag("audio.speed", cmd.Flags().Lookup("openai-speed"))
	viper.BindPFlag("audio.instruction", cmd.Flags().Lookup("openai-instruction"))
}

// InitConfig initializes viper configuration
func InitConfig(cfgFile string) {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error getting home directory: %v\n", err)
			return
		}

		// Search config in home directory with name ".cardforge" (without extension)
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".cardforge")
	}

	viper.SetDefault("cache.max_entries", 1000)
	viper.SetDefault("breaker.failure_threshold", 5)
	viper.SetDefault("breaker.recovery_seconds", 60)
	viper.SetDefault("batch.call_timeout_seconds", 30)

	// Environment variables
	viper.SetEnvPrefix("CARDFORGE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// GetOpenAIKey retrieves the OpenAI API key from environment or config
func GetOpenAIKey() string {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		return key
	}
	return viper.GetString("openai.api_key")
}

// GetPixabayKey retrieves the Pixabay API key from environment or config
func GetPixabayKey() string {
	if key := os.Getenv("PIXABAY_API_KEY"); key != "" {
		return key
	}
	return viper.GetString("image.api_key")
}
