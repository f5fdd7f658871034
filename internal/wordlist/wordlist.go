// Package wordlist reads frequency-ordered word lists and seeds them into the
// progress store.
package wordlist

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"codeberg.org/akova/cardforge/internal/progress"
)

// Entry is one word from a list with its frequency rank.
type Entry struct {
	Rank        int
	Word        string
	Translation string
}

// ReadFile reads a word list. Supported line formats:
//   - "котка"            (rank assigned from line order)
//   - "12 котка"         (explicit rank)
//   - "котка = cat"      (with translation)
//   - "12 котка = cat"   (explicit rank with translation)
//
// Blank lines and lines starting with '#' are skipped.
func ReadFile(filename string) ([]Entry, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read word list: %w", err)
	}

	var entries []Entry
	nextRank := 1
	for i, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		entry := Entry{}
		if word, translation, found := strings.Cut(line, "="); found {
			entry.Translation = strings.TrimSpace(translation)
			line = strings.TrimSpace(word)
			if line == "" {
				return nil, fmt.Errorf("line %d: translation without a word", i+1)
			}
		}

		// A leading integer is an explicit rank.
		if first, rest, found := strings.Cut(line, " "); found {
			if rank, err := strconv.Atoi(first); err == nil {
				if rank <= 0 {
					return nil, fmt.Errorf("line %d: rank must be positive, got %d", i+1, rank)
				}
				entry.Rank = rank
				line = strings.TrimSpace(rest)
			}
		}
		if entry.Rank == 0 {
			entry.Rank = nextRank
		}
		entry.Word = line
		if entry.Word == "" {
			return nil, fmt.Errorf("line %d: empty word", i+1)
		}

		entries = append(entries, entry)
		nextRank = entry.Rank + 1
	}

	return entries, nil
}

// Seed inserts the entries into the store, leaving existing rows and their
// progress counters untouched. Returns the number of words now in the list.
func Seed(ctx context.Context, store *progress.Store, entries []Entry) (int, error) {
	for _, e := range entries {
		if err := store.SeedWord(ctx, e.Rank, e.Word, e.Translation); err != nil {
			return 0, err
		}
	}
	return store.WordCount(ctx)
}
