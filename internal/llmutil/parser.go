// internal/llmutil/parser.go
package llmutil

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	json "github.com/json-iterator/go"
)

// ErrEmptyResponse is returned when the model produced no usable text.
var ErrEmptyResponse = errors.New("empty LLM response")

var (
	// Regex definitions use \x60 (hex representation) for backticks because Go raw strings cannot contain backticks.

	// jsonObjectRegex extracts a JSON object if the response is wrapped in markdown.
	jsonObjectRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*({.*})\\s*\x60\x60\x60")
	// jsonArrayRegex extracts a JSON array if the response is wrapped in markdown.
	jsonArrayRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*(\\[.*\\])\\s*\x60\x60\x60")
)

// ExtractJSON isolates the JSON document in a model response. It handles markdown
// fences and conversational text around a single object or array.
func ExtractJSON(response string) string {
	response = strings.TrimSpace(response)

	isObject := strings.Contains(response, "{")
	isArray := strings.Contains(response, "[")

	if strings.HasPrefix(response, "```") {
		var matches []string
		if isObject {
			matches = jsonObjectRegex.FindStringSubmatch(response)
		}
		if len(matches) <= 1 && isArray {
			matches = jsonArrayRegex.FindStringSubmatch(response)
		}
		if len(matches) > 1 {
			return matches[1]
		}
		return response
	}

	if strings.HasPrefix(response, "{") || strings.HasPrefix(response, "[") {
		return response
	}

	// The structure is embedded in prose. Objects take precedence over arrays.
	if isObject {
		if fb, lb := strings.Index(response, "{"), strings.LastIndex(response, "}"); fb != -1 && lb > fb {
			return response[fb : lb+1]
		}
	}
	if isArray {
		if fb, lb := strings.Index(response, "["), strings.LastIndex(response, "]"); fb != -1 && lb > fb {
			return response[fb : lb+1]
		}
	}
	return response
}

// ParseJSONResponse attempts to parse an LLM response string into a target Go type using generics.
// It handles common LLM formatting issues, such as wrapping the JSON in markdown code blocks.
func ParseJSONResponse[T any](response string) (*T, error) {
	if strings.TrimSpace(response) == "" {
		return nil, ErrEmptyResponse
	}
	jsonStringToParse := ExtractJSON(response)

	var result T
	if err := json.Unmarshal([]byte(jsonStringToParse), &result); err != nil {
		// Provide a detailed error message including the extracted JSON snippet.
		return nil, fmt.Errorf("failed to unmarshal LLM JSON response: %w. Extracted JSON (truncated): %s", err, truncateString(jsonStringToParse, 500))
	}
	return &result, nil
}

// truncateString truncates a string to a maximum length.
func truncateString(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	// Simple truncation; does not account for rune boundaries but sufficient for error logging.
	return s[:maxLen] + "..."
}
