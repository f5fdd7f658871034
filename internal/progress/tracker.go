package progress

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Stage is one sequential pipeline phase for a word.
type Stage string

const (
	StageSentences Stage = "sentences"
	StageAudio     Stage = "audio"
	StageImages    Stage = "images"
)

// prerequisite returns the stage that must have progress before this one may
// be attempted, or "" for the first stage.
func (s Stage) prerequisite() Stage {
	switch s {
	case StageAudio:
		return StageSentences
	case StageImages:
		return StageAudio
	}
	return ""
}

// column returns the words-table column holding this stage's counter.
// Only the three known stages map to columns; anything else is a
// programming error surfaced by the queries below.
func (s Stage) column() (string, error) {
	switch s {
	case StageSentences, StageAudio, StageImages:
		return string(s), nil
	}
	return "", fmt.Errorf("unknown stage %q", s)
}

// WorkItem is one word row with its stage counters.
type WorkItem struct {
	Rank        int    `db:"rank"`
	Word        string `db:"word"`
	Translation string `db:"translation"`
	Sentences   int    `db:"sentences"`
	Audio       int    `db:"audio"`
	Images      int    `db:"images"`
}

// StageCount returns the counter for the given stage.
func (w *WorkItem) StageCount(stage Stage) int {
	switch stage {
	case StageSentences:
		return w.Sentences
	case StageAudio:
		return w.Audio
	case StageImages:
		return w.Images
	}
	return 0
}

// Unit is one generated example sentence belonging to a word. The audio and
// image tags stay empty until the downstream stages fill them.
type Unit struct {
	ID          string `db:"id"`
	WordRank    int    `db:"word_rank"`
	Word        string `db:"word"`
	Meaning     string `db:"meaning"`
	Text        string `db:"text"`
	Phonetic    string `db:"phonetic"`
	Translation string `db:"translation"`
	AudioTag    string `db:"audio_tag"`
	ImageTag    string `db:"image_tag"`
}

// ErrUnitsExist is reported when AppendUnits finds rows for the word already
// present; the caller must not generate replacements.
var ErrUnitsExist = errors.New("unit rows already exist for word")

// ErrUnknownWord is reported when a stage write names a rank that was never
// seeded, so the miss is not mistaken for an already-done skip.
var ErrUnknownWord = errors.New("no word at rank")

// UnitID builds the deterministic identifier for one generated unit:
// {rank:04d}_{word}_{index:02d}. Stable across runs so re-execution maps to
// the same rows and files.
func UnitID(rank int, word string, index int) string {
	return fmt.Sprintf("%04d_%s_%02d", rank, sanitizeWord(word), index)
}

// unitPrefix is the identity prefix shared by all of a word's units.
func unitPrefix(rank int, word string) string {
	return fmt.Sprintf("%04d_%s_", rank, sanitizeWord(word))
}

func sanitizeWord(word string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '/', '\\', ':', '*', '?', '"', '<', '>', '|', '.':
			return '_'
		}
		return r
	}, word)
}

// NextIncomplete scans words in rank order and returns the first one whose
// counter for stage is zero and whose prerequisite stage has progress.
// Returns nil when every row satisfies the stage.
func (s *Store) NextIncomplete(ctx context.Context, stage Stage) (*WorkItem, error) {
	col, err := stage.column()
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT * FROM words WHERE %s = 0", col)
	if prereq := stage.prerequisite(); prereq != "" {
		query += fmt.Sprintf(" AND %s > 0", prereq)
	}
	query += " ORDER BY rank LIMIT 1"

	var item WorkItem
	err = s.db.GetContext(ctx, &item, query)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("db.GetContext(next incomplete %s) > %w", stage, err)
	}
	return &item, nil
}

// Incomplete returns up to limit words, in rank order, whose counter for
// stage is zero and whose prerequisite stage has progress.
func (s *Store) Incomplete(ctx context.Context, stage Stage, limit int) ([]WorkItem, error) {
	return s.IncompleteAfter(ctx, stage, stage.prerequisite(), limit)
}

// IncompleteAfter is Incomplete with an explicit prerequisite stage, for runs
// where an intermediate stage is being skipped. An empty prereq means the
// stage has no gate.
func (s *Store) IncompleteAfter(ctx context.Context, stage, prereq Stage, limit int) ([]WorkItem, error) {
	col, err := stage.column()
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT * FROM words WHERE %s = 0", col)
	if prereq != "" {
		pcol, err := prereq.column()
		if err != nil {
			return nil, err
		}
		query += fmt.Sprintf(" AND %s > 0", pcol)
	}
	query += " ORDER BY rank LIMIT ?"

	var items []WorkItem
	if err := s.db.SelectContext(ctx, &items, query, limit); err != nil {
		return nil, fmt.Errorf("db.SelectContext(incomplete %s) > %w", stage, err)
	}
	return items, nil
}

// Word returns the row for a rank, or nil if absent.
func (s *Store) Word(ctx context.Context, rank int) (*WorkItem, error) {
	var item WorkItem
	err := s.db.GetContext(ctx, &item, "SELECT * FROM words WHERE rank = ?", rank)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("db.GetContext(word %d) > %w", rank, err)
	}
	return &item, nil
}

// MarkStageCount writes the stage counter for a word. When the counter is
// already non-zero and force is false the write is skipped and (false, nil)
// is returned, making re-runs at-most-once per (word, stage). A rank with no
// word row reports ErrUnknownWord. The counter is only considered advanced
// once the write has durably succeeded.
func (s *Store) MarkStageCount(ctx context.Context, rank int, stage Stage, count int, force bool) (bool, error) {
	col, err := stage.column()
	if err != nil {
		return false, err
	}
	if count < 0 {
		count = 0
	}

	query := fmt.Sprintf("UPDATE words SET %s = ? WHERE rank = ?", col)
	if !force {
		query += fmt.Sprintf(" AND %s = 0", col)
	}

	res, err := s.db.ExecContext(ctx, query, count, rank)
	if err != nil {
		return false, &PersistenceError{Op: fmt.Sprintf("mark %s=%d for rank %d", stage, count, rank), Cause: err}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, &PersistenceError{Op: fmt.Sprintf("mark %s for rank %d", stage, rank), Cause: err}
	}
	if affected > 0 {
		return true, nil
	}

	// Zero rows is a legitimate skip only when the word exists with a
	// non-zero counter. A rank with no row at all is an error.
	item, err := s.Word(ctx, rank)
	if err != nil {
		return false, err
	}
	if item == nil {
		return false, fmt.Errorf("%w: %d", ErrUnknownWord, rank)
	}
	return false, nil
}

// AppendUnits inserts the per-sentence working rows for a word. If any row
// with the word's identity prefix already exists, nothing is inserted and
// ErrUnitsExist is returned, so a re-run never creates duplicates.
func (s *Store) AppendUnits(ctx context.Context, rank int, word string, units []Unit) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return &PersistenceError{Op: fmt.Sprintf("append units for %q", word), Cause: err}
	}
	defer tx.Rollback()

	var existing int
	prefix := unitPrefix(rank, word)
	if err := tx.GetContext(ctx, &existing,
		"SELECT COUNT(*) FROM units WHERE id LIKE ? || '%'", prefix); err != nil {
		return &PersistenceError{Op: fmt.Sprintf("check units for %q", word), Cause: err}
	}
	if existing > 0 {
		return fmt.Errorf("%w: %q has %d rows", ErrUnitsExist, word, existing)
	}

	for i, unit := range units {
		unit.ID = UnitID(rank, word, i)
		unit.WordRank = rank
		unit.Word = word
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO units (id, word_rank, word, meaning, text, phonetic, translation, audio_tag, image_tag)
			VALUES (:id, :word_rank, :word, :meaning, :text, :phonetic, :translation, :audio_tag, :image_tag)`, unit); err != nil {
			return &PersistenceError{Op: fmt.Sprintf("insert unit %s", unit.ID), Cause: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &PersistenceError{Op: fmt.Sprintf("commit units for %q", word), Cause: err}
	}
	return nil
}

// AllUnits returns every working row in id order, which is rank then unit
// index.
func (s *Store) AllUnits(ctx context.Context) ([]Unit, error) {
	var units []Unit
	if err := s.db.SelectContext(ctx, &units, "SELECT * FROM units ORDER BY id"); err != nil {
		return nil, fmt.Errorf("db.SelectContext(all units) > %w", err)
	}
	return units, nil
}

// UnitRows returns the working rows for a word in unit order.
func (s *Store) UnitRows(ctx context.Context, rank int) ([]Unit, error) {
	var units []Unit
	if err := s.db.SelectContext(ctx, &units,
		"SELECT * FROM units WHERE word_rank = ? ORDER BY id", rank); err != nil {
		return nil, fmt.Errorf("db.SelectContext(units for %d) > %w", rank, err)
	}
	return units, nil
}

// SetUnitTag records a downstream artifact (audio or image filename) on one
// unit row.
func (s *Store) SetUnitTag(ctx context.Context, unitID string, stage Stage, tag string) error {
	var col string
	switch stage {
	case StageAudio:
		col = "audio_tag"
	case StageImages:
		col = "image_tag"
	default:
		return fmt.Errorf("stage %q has no unit tag", stage)
	}

	if _, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE units SET %s = ? WHERE id = ?", col), tag, unitID); err != nil {
		return &PersistenceError{Op: fmt.Sprintf("set %s on %s", col, unitID), Cause: err}
	}
	return nil
}
