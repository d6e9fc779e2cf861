package common

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	codeFence     = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")
	trailingComma = regexp.MustCompile(`,(\s*[}\]])`)
)

// ParseJSON cleans and unmarshals a JSON object out of an LLM response into a type T.
// It handles markdown fences, prose around the object and trailing commas.
func ParseJSON[T any](response string) (T, error) {
	var zero T
	text := response
	if m := codeFence.FindStringSubmatch(text); m != nil {
		text = m[1]
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 {
		return zero, fmt.Errorf("no JSON object found in response (missing '{')")
	}
	if end < start {
		return zero, fmt.Errorf("unterminated JSON object in response")
	}
	jsonStr := text[start : end+1]

	var result T
	err := json.Unmarshal([]byte(jsonStr), &result)
	if err != nil {
		cleaned := trailingComma.ReplaceAllString(jsonStr, "$1")
		if cleaned == jsonStr || json.Unmarshal([]byte(cleaned), &result) != nil {
			return zero, fmt.Errorf("failed to unmarshal JSON: %w\nData: %s", err, jsonStr)
		}
	}

	return result, nil
}
