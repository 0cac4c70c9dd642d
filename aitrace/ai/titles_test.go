package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractTitle(t *testing.T) {
	assert.Equal(t, "Red Mug", ExtractTitle("<title>Red Mug</title>"))
	assert.Equal(t, "Red Mug", ExtractTitle("Sure! <title>\n  Red Mug \n</title> <title>Other</title>"))
	assert.Equal(t, "", ExtractTitle("<title></title>"))
	assert.Equal(t, "", ExtractTitle("no tags here"))
}

func TestDisabledWithoutKey(t *testing.T) {
	assert.Nil(t, NewTitleSuggester(Config{Provider: "anthropic"}))
}

func fakeCompletions(t *testing.T, content string, received *map[string]interface{}) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(received); err != nil {
			t.Errorf("invalid request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  "test",
			"choices": []map[string]interface{}{
				{"index": 0, "finish_reason": "stop", "message": map[string]string{"role": "assistant", "content": content}},
			},
		})
	}))
}

func TestSuggestTitle(t *testing.T) {
	var received map[string]interface{}
	server := fakeCompletions(t, "<title>Specific Product Name</title>", &received)
	defer server.Close()

	suggester := NewTitleSuggester(Config{Provider: "openai", ApiKey: "key", BaseUrl: server.URL + "/v1"})
	require.NotNil(t, suggester)

	title, err := suggester.SuggestTitle(context.Background(), "https://walmart.com/ip/Specific-Product-Name/1", []byte{0x89, 'P', 'N', 'G'}, "image/png")
	require.NoError(t, err)
	assert.Equal(t, "Specific Product Name", title)

	assert.Equal(t, defaultOpenaiModel, received["model"])
	assert.EqualValues(t, maxTitleTokens, received["max_tokens"])

	messages := received["messages"].([]interface{})
	require.Len(t, messages, 1)
	content := messages[0].(map[string]interface{})["content"].([]interface{})
	require.Len(t, content, 2)
	image := content[0].(map[string]interface{})["image_url"].(map[string]interface{})
	assert.True(t, strings.HasPrefix(image["url"].(string), "data:image/png;base64,"))
}

func TestSuggestTitleEmpty(t *testing.T) {
	var received map[string]interface{}
	server := fakeCompletions(t, "<title></title>", &received)
	defer server.Close()

	suggester := NewTitleSuggester(Config{Provider: "anthropic", ApiKey: "key", BaseUrl: server.URL + "/v1"})

	title, err := suggester.SuggestTitle(context.Background(), "https://example.com/random.jpg", nil, "")
	require.NoError(t, err)
	assert.Equal(t, "", title)
	assert.Equal(t, defaultAnthropicModel, received["model"])
}
