package llmutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chainsPayload struct {
	Chains []struct {
		Name  string `json:"name"`
		Steps []struct {
			Action     string   `json:"action"`
			References []string `json:"references"`
		} `json:"steps"`
	} `json:"chains"`
}

func TestParseJSONResponse(t *testing.T) {
	tests := []struct {
		name     string
		response string
	}{
		{"plain object", `{"chains":[{"name":"harvest","steps":[{"action":"enumerate","references":["V-1"]}]}]}`},
		{"fenced with language", "```json\n{\"chains\":[{\"name\":\"harvest\",\"steps\":[{\"action\":\"enumerate\",\"references\":[\"V-1\"]}]}]}\n```"},
		{"fenced without language", "```\n{\"chains\":[{\"name\":\"harvest\",\"steps\":[{\"action\":\"enumerate\",\"references\":[\"V-1\"]}]}]}\n```"},
		{"conversational", "Here are the chains you asked for:\n{\"chains\":[{\"name\":\"harvest\",\"steps\":[{\"action\":\"enumerate\",\"references\":[\"V-1\"]}]}]}\nLet me know."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := ParseJSONResponse[chainsPayload](tt.response)
			require.NoError(t, err)
			require.Len(t, out.Chains, 1)
			assert.Equal(t, "harvest", out.Chains[0].Name)
			assert.Equal(t, []string{"V-1"}, out.Chains[0].Steps[0].References)
		})
	}
}

func TestParseJSONResponse_Array(t *testing.T) {
	out, err := ParseJSONResponse[[]string]("The steps are: [\"a\", \"b\"]")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, *out)
}

func TestParseJSONResponse_Errors(t *testing.T) {
	_, err := ParseJSONResponse[chainsPayload]("   ")
	assert.ErrorIs(t, err, ErrEmptyResponse)

	_, err = ParseJSONResponse[chainsPayload]("{\"chains\": [ {\"name\": }")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unmarshal LLM JSON response")

	long := "{" + strings.Repeat("x", 1000)
	_, err = ParseJSONResponse[chainsPayload](long)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "...")
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "abc", truncateString("abc", 5))
	assert.Equal(t, "ab...", truncateString("abcdef", 2))
	assert.Equal(t, "", truncateString("abc", 0))
}
