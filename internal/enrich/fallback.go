package enrich

import "fmt"

// Fallback builds a deterministic placeholder result for a word whose model
// output could not be used. The caller still gets enough units to keep the
// pipeline moving, marked low-confidence so downstream stages and deck
// reviewers can spot them. Fallback results are never cached.
func Fallback(word string, targetCount int) *Result {
	n := targetCount
	if n > MinViableUnits {
		n = MinViableUnits
	}
	units := make([]Unit, n)
	for i := range units {
		units[i] = Unit{
			Text:        fmt.Sprintf("(example pending for %q #%d)", word, i+1),
			Translation: "(translation pending)",
		}
	}
	return &Result{
		Word:          word,
		Meaning:       "(meaning pending)",
		Units:         units,
		LowConfidence: true,
	}
}
