package enrich

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"

	"codeberg.org/akova/cardforge/internal/cache"
	"codeberg.org/akova/cardforge/internal/invoker"
)

type fakeChat struct {
	responses []string
	errs      []error
	calls     int
}

func (f *fakeChat) CreateChatCompletion(_ context.Context, _ openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return openai.ChatCompletionResponse{}, f.errs[i]
	}
	content := ""
	if i < len(f.responses) {
		content = f.responses[i]
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}, nil
}

func fastInvoker() *invoker.Invoker {
	return invoker.New(invoker.Policy{
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		MaxJitter:   time.Millisecond,
	})
}

func goodJSON(word string, n int) string {
	var units []string
	for i := 0; i < n; i++ {
		units = append(units, fmt.Sprintf(
			`{"text": "Изречение %d с %s.", "translation": "Sentence %d with %s.", "phonetic": "izrechenie"}`,
			i+1, word, i+1, word))
	}
	return fmt.Sprintf(`{"meaning": "a thing", "units": [%s]}`, strings.Join(units, ","))
}

func newTestGenerator(t *testing.T, client ChatClient) *Generator {
	t.Helper()
	c := cache.New(cache.WithDir(t.TempDir()))
	return NewGenerator(client, fastInvoker(), c, Config{})
}

func TestGenerateParsesBareJSON(t *testing.T) {
	chat := &fakeChat{responses: []string{goodJSON("котка", 6)}}
	g := newTestGenerator(t, chat)

	result, err := g.Generate(context.Background(), "котка", "Bulgarian", 6)
	if err != nil {
		t.Fatalf("Generate() failed: %v", err)
	}
	if result.LowConfidence {
		t.Error("valid output marked low confidence")
	}
	if result.Meaning != "a thing" {
		t.Errorf("meaning = %q", result.Meaning)
	}
	if len(result.Units) != 6 {
		t.Errorf("got %d units, want 6", len(result.Units))
	}
}

func TestGenerateParsesFencedAndProseWrappedJSON(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"json fence", "```json\n" + goodJSON("куче", 5) + "\n```"},
		{"bare fence", "```\n" + goodJSON("куче", 5) + "\n```"},
		{"prose wrapped", "Here you go!\n" + goodJSON("куче", 5) + "\nHope this helps."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chat := &fakeChat{responses: []string{tt.content}}
			g := newTestGenerator(t, chat)

			result, err := g.Generate(context.Background(), "куче", "Bulgarian", 5)
			if err != nil {
				t.Fatalf("Generate() failed: %v", err)
			}
			if result.LowConfidence {
				t.Error("parseable output marked low confidence")
			}
			if len(result.Units) != 5 {
				t.Errorf("got %d units, want 5", len(result.Units))
			}
		})
	}
}

func TestGenerateSecondCallHitsCache(t *testing.T) {
	chat := &fakeChat{responses: []string{goodJSON("хляб", 6)}}
	g := newTestGenerator(t, chat)
	ctx := context.Background()

	first, err := g.Generate(ctx, "хляб", "Bulgarian", 6)
	if err != nil {
		t.Fatalf("first Generate() failed: %v", err)
	}
	if first.FromCache {
		t.Error("first call reported a cache hit")
	}

	second, err := g.Generate(ctx, "хляб", "Bulgarian", 6)
	if err != nil {
		t.Fatalf("second Generate() failed: %v", err)
	}
	if !second.FromCache {
		t.Error("second call missed the cache")
	}
	if chat.calls != 1 {
		t.Errorf("model called %d times, want 1", chat.calls)
	}
	if second.Meaning != first.Meaning || len(second.Units) != len(first.Units) {
		t.Error("cached result differs from original")
	}
}

func TestGenerateDifferentCountIsDifferentCacheEntry(t *testing.T) {
	chat := &fakeChat{responses: []string{goodJSON("вода", 6), goodJSON("вода", 8)}}
	g := newTestGenerator(t, chat)
	ctx := context.Background()

	if _, err := g.Generate(ctx, "вода", "Bulgarian", 6); err != nil {
		t.Fatalf("Generate(6) failed: %v", err)
	}
	if _, err := g.Generate(ctx, "вода", "Bulgarian", 8); err != nil {
		t.Fatalf("Generate(8) failed: %v", err)
	}
	if chat.calls != 2 {
		t.Errorf("model called %d times, want 2 for distinct counts", chat.calls)
	}
}

func TestGenerateGarbageFallsBackAndIsNotCached(t *testing.T) {
	chat := &fakeChat{responses: []string{"I cannot do that.", goodJSON("стол", 5)}}
	g := newTestGenerator(t, chat)
	ctx := context.Background()

	result, err := g.Generate(ctx, "стол", "Bulgarian", 5)
	if err != nil {
		t.Fatalf("Generate() failed: %v", err)
	}
	if !result.LowConfidence {
		t.Error("fallback result not marked low confidence")
	}
	if len(result.Units) != MinViableUnits {
		t.Errorf("fallback has %d units, want %d", len(result.Units), MinViableUnits)
	}
	if !strings.Contains(result.Units[0].Text, "стол") {
		t.Errorf("placeholder text %q does not name the word", result.Units[0].Text)
	}

	// A fallback must not poison the cache: the retry reaches the model.
	result, err = g.Generate(ctx, "стол", "Bulgarian", 5)
	if err != nil {
		t.Fatalf("retry Generate() failed: %v", err)
	}
	if result.LowConfidence {
		t.Error("retry returned the fallback instead of fresh output")
	}
	if chat.calls != 2 {
		t.Errorf("model called %d times, want 2", chat.calls)
	}
}

func TestGenerateRejectsThinResults(t *testing.T) {
	// Three units, two of them empty: below the viability floor.
	content := `{"meaning": "x", "units": [
		{"text": "Добре.", "translation": "Fine."},
		{"text": "", "translation": "empty"},
		{"text": "Да.", "translation": ""}]}`
	chat := &fakeChat{responses: []string{content}}
	g := newTestGenerator(t, chat)

	result, err := g.Generate(context.Background(), "да", "Bulgarian", 6)
	if err != nil {
		t.Fatalf("Generate() failed: %v", err)
	}
	if !result.LowConfidence {
		t.Error("thin result accepted, want fallback")
	}
}

func TestGenerateTruncatesOverflow(t *testing.T) {
	chat := &fakeChat{responses: []string{goodJSON("май", 9)}}
	g := newTestGenerator(t, chat)

	result, err := g.Generate(context.Background(), "май", "Bulgarian", 6)
	if err != nil {
		t.Fatalf("Generate() failed: %v", err)
	}
	if len(result.Units) != 6 {
		t.Errorf("got %d units, want overflow truncated to 6", len(result.Units))
	}
}

func TestGenerateRateLimitPropagates(t *testing.T) {
	apiErr := &openai.APIError{HTTPStatusCode: 429, Message: "slow down"}
	chat := &fakeChat{errs: []error{apiErr, apiErr}}
	g := newTestGenerator(t, chat)

	_, err := g.Generate(context.Background(), "не", "Bulgarian", 5)
	if err == nil {
		t.Fatal("Generate() succeeded, want rate limit error")
	}
	var rl *invoker.RateLimitedError
	if !errors.As(err, &rl) {
		t.Errorf("error %v is not RateLimitedError", err)
	}
	if !invoker.IsBatchStop(err) {
		t.Error("rate limit error should stop the batch")
	}
	if chat.calls != 1 {
		t.Errorf("model called %d times, want 1 (no retry on 429)", chat.calls)
	}
}

func TestGenerateRetriesTransportErrors(t *testing.T) {
	chat := &fakeChat{
		errs:      []error{&openai.APIError{HTTPStatusCode: 503, Message: "overloaded"}},
		responses: []string{"", goodJSON("утре", 5)},
	}
	g := newTestGenerator(t, chat)

	result, err := g.Generate(context.Background(), "утре", "Bulgarian", 5)
	if err != nil {
		t.Fatalf("Generate() failed: %v", err)
	}
	if result.LowConfidence {
		t.Error("recovered call marked low confidence")
	}
	if chat.calls != 2 {
		t.Errorf("model called %d times, want 2", chat.calls)
	}
}
