package enrich

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

// parseResponse extracts a Result from raw model output. Models sometimes
// wrap the JSON in markdown fences or surround it with prose despite the
// prompt, so parsing is attempted in decreasing order of strictness.
func parseResponse(word, content string) (*Result, error) {
	cleaned := stripFences(content)

	var result Result
	if err := json.Unmarshal([]byte(cleaned), &result); err == nil {
		result.Word = word
		return &result, nil
	}

	// Last chance: pull the first brace-delimited block out of the prose.
	block := jsonObjectPattern.FindString(cleaned)
	if block == "" {
		return nil, fmt.Errorf("no JSON object in model output")
	}
	if err := json.Unmarshal([]byte(block), &result); err != nil {
		return nil, fmt.Errorf("model output is not valid JSON: %w", err)
	}
	result.Word = word
	return &result, nil
}

// stripFences removes a surrounding markdown code fence, with or without a
// language tag, leaving other content untouched.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
