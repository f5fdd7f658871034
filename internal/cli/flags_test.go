package cli

import "testing"

func TestNewFlagsDefaults(t *testing.T) {
	flags := NewFlags()

	if flags.BatchSize != 25 {
		t.Errorf("BatchSize = %d, want 25", flags.BatchSize)
	}
	if flags.TargetCount != 10 {
		t.Errorf("TargetCount = %d, want 10", flags.TargetCount)
	}
	if flags.Language != "Bulgarian" {
		t.Errorf("Language = %q", flags.Language)
	}
	if flags.LanguageCode != "bg" {
		t.Errorf("LanguageCode = %q", flags.LanguageCode)
	}
	if flags.EnrichModel != "gpt-4o-mini" {
		t.Errorf("EnrichModel = %q", flags.EnrichModel)
	}
	if flags.CacheTTLHours != 72 {
		t.Errorf("CacheTTLHours = %d, want 72", flags.CacheTTLHours)
	}
	if flags.AudioFormat != "mp3" {
		t.Errorf("AudioFormat = %q", flags.AudioFormat)
	}
	if flags.OpenAISpeed != 1.0 {
		t.Errorf("OpenAISpeed = %v, want 1.0", flags.OpenAISpeed)
	}
	if flags.Force || flags.SkipAudio || flags.SkipImages || flags.Deck || flags.Status {
		t.Error("boolean flags should default to false")
	}
}
