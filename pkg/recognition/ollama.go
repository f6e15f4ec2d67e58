package recognition

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/menta2k/image-overlay/pkg/encoding"
	"github.com/menta2k/image-overlay/pkg/types"
)

// recognizePrompt instructs a vision model to return overlay regions
const recognizePrompt = `You are an OCR and translation engine for images.

Find every block of readable text in the image, transcribe it, and translate it to %s.

Return JSON only:
{
  "regions": [
    {"recognized_text": "string", "translated_text": "string", "box": [x0, y0, x1, y1]}
  ]
}

HARD RULES
- Box coordinates are pixels in the supplied image, x0<x1 and y0<y1.
- One region per coherent text block, ordered top to bottom.
- If the image has no readable text, return {"regions": []}.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// translatePrompt instructs a model to translate free-form text
const translatePrompt = `Translate the following text to %s. Return only the translation, nothing else.

%s`

// OllamaClient runs recognition and translation against a local Ollama
// vision model instead of a remote service
type OllamaClient struct {
	client *api.Client
	model  string
}

// NewOllamaClient creates an Ollama-backed recognizer. Any path on the
// URL (like /api/chat) is discarded; only scheme and host are used.
func NewOllamaClient(ollamaURL, model string) (*OllamaClient, error) {
	parsedURL, err := url.Parse(ollamaURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %v", err)
	}
	baseURL := &url.URL{
		Scheme: parsedURL.Scheme,
		Host:   parsedURL.Host,
	}
	return &OllamaClient{
		client: api.NewClient(baseURL, http.DefaultClient),
		model:  model,
	}, nil
}

// Recognize implements Recognizer
func (c *OllamaClient) Recognize(ctx context.Context, fingerprint string, content *encoding.Encoded, opts types.SessionOptions) ([]types.Region, error) {
	prompt := fmt.Sprintf(recognizePrompt, targetLanguage(opts))
	raw, err := c.chat(ctx, prompt, content.Bytes)
	if err != nil {
		return nil, Classify(err)
	}
	return parseRegions(raw)
}

// Translate implements Recognizer
func (c *OllamaClient) Translate(ctx context.Context, text string, opts types.SessionOptions) (string, error) {
	raw, err := c.chat(ctx, fmt.Sprintf(translatePrompt, targetLanguage(opts), text), nil)
	if err != nil {
		return "", Classify(err)
	}
	return strings.TrimSpace(raw), nil
}

func targetLanguage(opts types.SessionOptions) string {
	if lang, ok := opts.SelectedOptions["target_lang"]; ok && lang != "" {
		return lang
	}
	return "English"
}

func (c *OllamaClient) chat(ctx context.Context, prompt string, imageBytes []byte) (string, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 300*time.Second)
		defer cancel()
	}

	streamFalse := false
	msg := api.Message{Role: "user", Content: prompt}
	if imageBytes != nil {
		msg.Images = []api.ImageData{api.ImageData(imageBytes)}
	}
	req := &api.ChatRequest{
		Model:    c.model,
		Messages: []api.Message{msg},
		Stream:   &streamFalse,
	}

	var responseContent string
	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		responseContent = resp.Message.Content
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat error: %v", err)
	}
	if responseContent == "" {
		return "", fmt.Errorf("empty response from ollama")
	}
	return responseContent, nil
}

// parseRegions parses the model's JSON region list
func parseRegions(raw string) ([]types.Region, error) {
	raw = sanitizeModelJSON(raw)
	if !strings.HasPrefix(strings.TrimSpace(raw), "{") {
		return nil, &UnknownError{Err: fmt.Errorf("model returned non-JSON response")}
	}

	var resp struct {
		Regions []types.Region `json:"regions"`
	}
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		// Conservative brace-slice retry before giving up
		start := strings.Index(raw, "{")
		end := strings.LastIndex(raw, "}")
		if start >= 0 && end > start {
			if err2 := json.Unmarshal([]byte(raw[start:end+1]), &resp); err2 != nil {
				return nil, &UnknownError{Err: fmt.Errorf("parse model response: %w", err2)}
			}
		} else {
			return nil, &UnknownError{Err: fmt.Errorf("parse model response: %w", err)}
		}
	}
	return resp.Regions, nil
}

// sanitizeModelJSON removes code fences, comments, and trailing commas
// from a model's JSON response
func sanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	// Strip triple-backtick fences if present
	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.TrimSpace(raw)
	raw = strings.Trim(raw, "`")

	// Remove /* ... */ block comments
	reBlock := regexp.MustCompile(`(?s)/\*.*?\*/`)
	raw = reBlock.ReplaceAllString(raw, "")

	// Remove // line/inline comments
	reLine := regexp.MustCompile(`(?m)^\s*//.*$`)
	raw = reLine.ReplaceAllString(raw, "")
	reInline := regexp.MustCompile(`(?m)//.*$`)
	raw = reInline.ReplaceAllString(raw, "")

	// Remove trailing commas before } or ]
	reTrailing := regexp.MustCompile(`,(\s*[}\]])`)
	raw = reTrailing.ReplaceAllString(raw, "$1")

	// Keep only the outermost {...}
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}
