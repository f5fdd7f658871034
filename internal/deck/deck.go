// Package deck assembles the flashcard import file from finished pipeline
// output.
package deck

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"codeberg.org/akova/cardforge/internal/progress"
)

// Card represents a single flashcard row
type Card struct {
	Word        string // The word or phrase being learned
	Meaning     string // Concise meaning of the word
	Text        string // The example sentence
	Phonetic    string // Romanized pronunciation
	Translation string // Sentence translation
	AudioFile   string // Audio filename, empty if not generated
	ImageFile   string // Image filename, empty if not generated
}

// Options configures the deck export
type Options struct {
	OutputPath     string // Output CSV file path
	IncludeHeaders bool   // Include CSV headers
}

// DefaultOptions returns sensible defaults
func DefaultOptions() *Options {
	return &Options{
		OutputPath:     "deck.csv",
		IncludeHeaders: true,
	}
}

// Assembler collects cards and writes the import CSV
type Assembler struct {
	options *Options
	cards   []Card
}

// NewAssembler creates a new deck assembler
func NewAssembler(options *Options) *Assembler {
	if options == nil {
		options = DefaultOptions()
	}
	return &Assembler{options: options}
}

// AddCard adds a card to the deck
func (a *Assembler) AddCard(card Card) {
	a.cards = append(a.cards, card)
}

// Cards returns the collected cards
func (a *Assembler) Cards() []Card {
	return a.cards
}

// LoadFromStore turns every unit row with generated text into a card. Units
// whose audio or images were skipped still get a row with those fields empty.
func (a *Assembler) LoadFromStore(ctx context.Context, store *progress.Store) (int, error) {
	units, err := store.AllUnits(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load units: %w", err)
	}

	added := 0
	for _, u := range units {
		if u.Text == "" {
			continue
		}
		a.AddCard(Card{
			Word:        u.Word,
			Meaning:     u.Meaning,
			Text:        u.Text,
			Phonetic:    u.Phonetic,
			Translation: u.Translation,
			AudioFile:   u.AudioTag,
			ImageFile:   u.ImageTag,
		})
		added++
	}
	return added, nil
}

// WriteCSV creates the import file
func (a *Assembler) WriteCSV() error {
	file, err := os.Create(a.options.OutputPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	if err := a.writeTo(file); err != nil {
		return err
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close CSV file: %w", err)
	}
	return nil
}

func (a *Assembler) writeTo(w io.Writer) error {
	writer := csv.NewWriter(w)

	if a.options.IncludeHeaders {
		headers := []string{"Word", "Meaning", "Sentence", "Phonetic", "Translation", "Audio", "Image"}
		if err := writer.Write(headers); err != nil {
			return fmt.Errorf("failed to write headers: %w", err)
		}
	}

	for _, card := range a.cards {
		record := []string{
			card.Word,
			card.Meaning,
			card.Text,
			card.Phonetic,
			card.Translation,
			formatAudioField(card.AudioFile),
			formatImageField(card.ImageFile),
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write card: %w", err)
		}
	}

	// Flush before the error check so a failure writing the final buffered
	// rows is reported instead of swallowed.
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV: %w", err)
	}
	return nil
}

// formatAudioField formats the audio reference as [sound:filename.mp3]
func formatAudioField(audioFile string) string {
	if audioFile == "" {
		return ""
	}
	return fmt.Sprintf("[sound:%s]", filepath.Base(audioFile))
}

// formatImageField formats the image reference as an img tag
func formatImageField(imageFile string) string {
	if imageFile == "" {
		return ""
	}
	return fmt.Sprintf(`<img src="%s">`, filepath.Base(imageFile))
}
