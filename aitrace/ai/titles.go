package ai

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sashabaranov/go-openai"
)

const (
	anthropicBaseUrl      = "https://api.anthropic.com/v1/"
	defaultAnthropicModel = "claude-3-5-haiku-latest"
	defaultOpenaiModel    = openai.GPT4oMini

	suggestionTimeout = 15 * time.Second
	maxTitleTokens    = 50
)

var suggestions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "aitrace_title_suggestions_total",
	Help: "Title suggestions requested from the llm, by result.",
}, []string{"result"})

type TitleSuggester interface {
	// SuggestTitle returns a short title for the image found at url. An empty
	// title with a nil error means the llm had no suggestion.
	SuggestTitle(ctx context.Context, url string, image []byte, mediaType string) (string, error)
}

type Config struct {
	Provider string
	ApiKey   string
	Model    string
	BaseUrl  string // overrides the provider endpoint
}

type OpenAISuggester struct {
	client *openai.Client
	model  string
}

// NewTitleSuggester returns nil when no api key is configured, callers treat a
// nil suggester as the feature being switched off.
func NewTitleSuggester(cfg Config) TitleSuggester {
	if cfg.ApiKey == "" {
		slog.Info("no llm api key configured, title suggestions are disabled")
		return nil
	}

	clientCfg := openai.DefaultConfig(cfg.ApiKey)
	model := cfg.Model

	if cfg.Provider == "openai" {
		if model == "" {
			model = defaultOpenaiModel
		}
	} else {
		clientCfg.BaseURL = anthropicBaseUrl
		if model == "" {
			model = defaultAnthropicModel
		}
	}

	if cfg.BaseUrl != "" {
		clientCfg.BaseURL = cfg.BaseUrl
	}

	slog.Info("title suggestions enabled", "provider", cfg.Provider, "model", model)

	return &OpenAISuggester{client: openai.NewClientWithConfig(clientCfg), model: model}
}

func titlePrompt(url string) string {
	return "Given a URL and an image, extract a concise product or object title using the following logic:\n" +
		"1. If the URL contains a clear, natural product name/title, use that as the title.\n" +
		"2. If the URL does not contain a clear title, analyze the image. If the image contains text, use it. " +
		"Otherwise, describe the main object or scene as a concise title.\n" +
		"3. Respond ONLY with the title wrapped in <title> tags. If no title can be determined, respond with <title></title>.\n\n" +
		"Examples:\n" +
		"https://example.com/Product-Name-Here + [image] → <title>Product Name Here</title>\n" +
		"https://example.com/random-image.jpg + [image of a red mug] → <title>Red Mug</title>\n" +
		"https://walmart.com/ip/Specific-Product-Name/12345 + [image] → <title>Specific Product Name</title>\n\n" +
		"URL: " + url
}

var titleRe = regexp.MustCompile(`(?s)<title>(.*?)</title>`)

// ExtractTitle returns the text of the first title tag in the completion.
func ExtractTitle(completion string) string {
	match := titleRe.FindStringSubmatch(completion)
	if match == nil {
		return ""
	}
	return strings.TrimSpace(match[1])
}

func (s *OpenAISuggester) SuggestTitle(ctx context.Context, url string, image []byte, mediaType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, suggestionTimeout)
	defer cancel()

	parts := []openai.ChatMessagePart{}
	if len(image) > 0 && mediaType != "" {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL: fmt.Sprintf("data:%v;base64,%v", mediaType, base64.StdEncoding.EncodeToString(image)),
			},
		})
	}
	parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: titlePrompt(url)})

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     s.model,
		MaxTokens: maxTitleTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, MultiContent: parts},
		},
	})
	if err != nil {
		suggestions.WithLabelValues("error").Inc()
		return "", fmt.Errorf("error requesting title suggestion: %w", err)
	}

	if len(resp.Choices) == 0 {
		suggestions.WithLabelValues("empty").Inc()
		return "", nil
	}

	title := ExtractTitle(resp.Choices[0].Message.Content)
	if title == "" {
		suggestions.WithLabelValues("empty").Inc()
	} else {
		suggestions.WithLabelValues("suggested").Inc()
	}

	return title, nil
}
