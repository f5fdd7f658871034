// Package enrich turns a single vocabulary word into a set of example
// sentences with translations and phonetic hints, using the OpenAI chat API
// behind a cache and a resilient invoker so repeated runs do not pay twice.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"codeberg.org/akova/cardforge/internal/cache"
	"codeberg.org/akova/cardforge/internal/invoker"
)

// MinViableUnits is the smallest unit count a model response may carry and
// still be accepted. Below this the whole response is rejected.
const MinViableUnits = 5

// Unit is one generated example sentence.
type Unit struct {
	Text        string `json:"text"`
	Translation string `json:"translation"`
	Phonetic    string `json:"phonetic"`
	Note        string `json:"note,omitempty"`
}

// Result is the enrichment outcome for one word. LowConfidence marks
// placeholder content produced when the model output could not be used.
type Result struct {
	Word          string `json:"word"`
	Meaning       string `json:"meaning"`
	Units         []Unit `json:"units"`
	LowConfidence bool   `json:"low_confidence,omitempty"`
	FromCache     bool   `json:"-"`
}

// ChatClient is the part of the OpenAI client the generator needs.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Generator produces enrichment results for words in one target language.
type Generator struct {
	client  ChatClient
	invoker *invoker.Invoker
	cache   *cache.Cache
	model   string
	ttl     time.Duration
}

// Config holds the generator's knobs. Zero values fall back to defaults.
type Config struct {
	Model string
	TTL   time.Duration
}

// DefaultTTL keeps cached enrichments for three days, long enough to span a
// multi-evening batch session.
const DefaultTTL = 72 * time.Hour

// NewGenerator builds a Generator. The cache may be nil, in which case every
// call goes to the model.
func NewGenerator(client ChatClient, inv *invoker.Invoker, c *cache.Cache, cfg Config) *Generator {
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	return &Generator{
		client:  client,
		invoker: inv,
		cache:   c,
		model:   cfg.Model,
		ttl:     cfg.TTL,
	}
}

// Generate returns targetCount example sentences for word in the given
// language. Cached results are returned without touching the network.
// Transport failures (rate limit, auth, exhausted retries) are returned as-is;
// unusable model output degrades to a low-confidence placeholder result that
// is never cached.
func (g *Generator) Generate(ctx context.Context, word, language string, targetCount int) (*Result, error) {
	if targetCount <= 0 {
		return nil, fmt.Errorf("target count must be positive, got %d", targetCount)
	}

	namespace := "enrichment_" + language
	params := map[string]any{
		"word":     word,
		"language": language,
		"count":    targetCount,
	}

	if g.cache != nil {
		if raw, ok := g.cache.Get(namespace, params); ok {
			var result Result
			if err := json.Unmarshal(raw, &result); err == nil {
				result.FromCache = true
				return &result, nil
			}
			// Unreadable cached payload: drop it and regenerate.
			g.cache.Delete(namespace, params)
		}
	}

	content, err := g.complete(ctx, buildPrompt(word, language, targetCount))
	if err != nil {
		return nil, err
	}

	result, parseErr := parseResponse(word, content)
	if parseErr == nil {
		parseErr = validate(result)
	}
	if parseErr != nil {
		fmt.Printf("  Warning: unusable model output for %q, using placeholders: %v\n", word, parseErr)
		return Fallback(word, targetCount), nil
	}

	if len(result.Units) > targetCount {
		result.Units = result.Units[:targetCount]
	}

	if g.cache != nil {
		if raw, err := json.Marshal(result); err == nil {
			g.cache.Set(namespace, params, raw, g.ttl, map[string]string{
				"word":     word,
				"language": language,
			})
		}
	}
	return result, nil
}

// complete runs one chat completion through the invoker and returns the
// message content.
func (g *Generator) complete(ctx context.Context, prompt string) (string, error) {
	var content string
	err := g.invoker.Invoke(ctx, func(ctx context.Context) error {
		resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: g.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleUser,
					Content: prompt,
				},
			},
			Temperature: 0.7,
		})
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("no completion returned")
		}
		content = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	return content, nil
}

func buildPrompt(word, language string, count int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are helping build flashcards for a learner of %s.\n", language)
	fmt.Fprintf(&b, "For the %s word '%s', produce exactly %d example sentences ", language, word, count)
	b.WriteString("covering varied grammatical roles, tenses and registers.\n")
	b.WriteString("Respond with a single JSON object and nothing else, no prose before or after:\n")
	b.WriteString("{\n")
	b.WriteString("  \"meaning\": \"concise English meaning of the word\",\n")
	b.WriteString("  \"units\": [\n")
	fmt.Fprintf(&b, "    {\"text\": \"sentence in %s\", \"translation\": \"English translation\", ", language)
	b.WriteString("\"phonetic\": \"romanized pronunciation\", \"note\": \"optional usage note\"}\n")
	b.WriteString("  ]\n")
	b.WriteString("}\n")
	return b.String()
}

// validate rejects results that are too thin to be useful. Units missing
// text or translation are dropped first, then the remainder must still reach
// MinViableUnits.
func validate(r *Result) error {
	kept := r.Units[:0]
	for _, u := range r.Units {
		if strings.TrimSpace(u.Text) == "" || strings.TrimSpace(u.Translation) == "" {
			continue
		}
		kept = append(kept, u)
	}
	r.Units = kept
	if len(r.Units) < MinViableUnits {
		return fmt.Errorf("only %d usable units, need at least %d", len(r.Units), MinViableUnits)
	}
	return nil
}
