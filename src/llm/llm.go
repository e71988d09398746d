package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Config holds the Analysis Client settings.
type Config struct {
	APIKey       string
	Model        string   // reasoning model for solution generation
	ExtractModel string   // vision model for problem extraction; defaults to Model
	Language     string   // target language for generated code, e.g. "python"
	Providers    []string // optional OpenRouter provider routing order
	BaseURL      string   // override for tests; defaults to the OpenRouter endpoint
	Timeout      time.Duration
}

// Client talks to an OpenRouter-style chat-completions endpoint.
type Client struct {
	cfg   Config
	httpc *http.Client
}

const (
	openRouterURL = "https://openrouter.ai/api/v1/chat/completions"
	maxRetries    = 3
	initialDelay  = 1 * time.Second
)

// NewClient validates the config and returns a ready client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("API key is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("model is required")
	}
	if cfg.ExtractModel == "" {
		cfg.ExtractModel = cfg.Model
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = openRouterURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	if cfg.Language == "" {
		cfg.Language = "python"
	}
	return &Client{
		cfg:   cfg,
		httpc: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// OpenRouter API structures
type Message struct {
	Role    string    `json:"role"`
	Content []Content `json:"content"`
}

type Content struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

type ProviderPreferences struct {
	Order          []string `json:"order,omitempty"`
	AllowFallbacks *bool    `json:"allow_fallbacks,omitempty"`
}

type ChatRequest struct {
	Model       string               `json:"model"`
	Messages    []Message            `json:"messages"`
	Temperature float64              `json:"temperature"`
	MaxTokens   int                  `json:"max_tokens"`
	Provider    *ProviderPreferences `json:"provider,omitempty"`
}

type ChatResponse struct {
	Choices []Choice  `json:"choices"`
	Error   *APIError `json:"error,omitempty"`
}

type Choice struct {
	Message ResponseMessage `json:"message"`
}

type ResponseMessage struct {
	Content string `json:"content"`
}

type APIError struct {
	Message string      `json:"message"`
	Type    string      `json:"type"`
	Code    interface{} `json:"code"` // can be string or number
}

// ProblemInfo is the structured extraction result for one problem.
type ProblemInfo struct {
	ProblemStatement string `json:"problem_statement"`
	Constraints      string `json:"constraints"`
	ExampleInput     string `json:"example_input"`
	ExampleOutput    string `json:"example_output"`
}

// Solutions is the generation result for an extracted problem.
type Solutions struct {
	Code            string   `json:"code"`
	Thoughts        []string `json:"thoughts"`
	TimeComplexity  string   `json:"time_complexity"`
	SpaceComplexity string   `json:"space_complexity"`
}

// DebugSolutions is the result of debugging an earlier solution against
// additional screenshots.
type DebugSolutions struct {
	NewCode         string   `json:"new_code"`
	Thoughts        []string `json:"thoughts"`
	TimeComplexity  string   `json:"time_complexity"`
	SpaceComplexity string   `json:"space_complexity"`
}

const extractPrompt = "Extract the programming problem shown in these screenshots. " +
	"Return ONLY a JSON object with the keys problem_statement, constraints, " +
	"example_input and example_output. Use empty strings for anything not visible. " +
	"No markdown, no explanations."

const solutionPromptFmt = "Solve this programming problem in %s.\n\n" +
	"Problem: %s\nConstraints: %s\nExample input: %s\nExample output: %s\n\n" +
	"Return ONLY a JSON object with the keys code (string), thoughts (array of " +
	"strings), time_complexity and space_complexity. No markdown."

const debugPromptFmt = "These screenshots show an attempted solution to the problem " +
	"below, possibly with error output. Debug and improve it in %s.\n\n" +
	"Problem: %s\nConstraints: %s\n\n" +
	"Return ONLY a JSON object with the keys new_code (string), thoughts (array of " +
	"strings), time_complexity and space_complexity. No markdown."

// ExtractProblem sends the queued screenshots to the vision model and parses
// the structured problem description out of the reply.
func (c *Client) ExtractProblem(ctx context.Context, images [][]byte) (*ProblemInfo, error) {
	if len(images) == 0 {
		return nil, errors.New("no images to extract from")
	}
	content := imageContent(images)
	content = append([]Content{{Type: "text", Text: extractPrompt}}, content...)

	raw, err := c.complete(ctx, c.cfg.ExtractModel, content, 2000)
	if err != nil {
		return nil, err
	}
	var info ProblemInfo
	if err := json.Unmarshal(stripFences(raw), &info); err != nil {
		return nil, fmt.Errorf("malformed extraction payload: %v", err)
	}
	return &info, nil
}

// GenerateSolutions asks the reasoning model for a solution to an already
// extracted problem.
func (c *Client) GenerateSolutions(ctx context.Context, info *ProblemInfo) (*Solutions, error) {
	if info == nil {
		return nil, errors.New("problem info is required")
	}
	prompt := fmt.Sprintf(solutionPromptFmt, c.cfg.Language,
		info.ProblemStatement, info.Constraints, info.ExampleInput, info.ExampleOutput)

	raw, err := c.complete(ctx, c.cfg.Model, []Content{{Type: "text", Text: prompt}}, 4000)
	if err != nil {
		return nil, err
	}
	var sol Solutions
	if err := json.Unmarshal(stripFences(raw), &sol); err != nil {
		return nil, fmt.Errorf("malformed solution payload: %v", err)
	}
	return &sol, nil
}

// GenerateDebugSolutions sends the combined screenshots plus the previously
// extracted problem and asks for a corrected solution.
func (c *Client) GenerateDebugSolutions(ctx context.Context, images [][]byte, info *ProblemInfo) (*DebugSolutions, error) {
	if info == nil {
		return nil, errors.New("problem info is required")
	}
	if len(images) == 0 {
		return nil, errors.New("no images to debug from")
	}
	prompt := fmt.Sprintf(debugPromptFmt, c.cfg.Language, info.ProblemStatement, info.Constraints)
	content := append([]Content{{Type: "text", Text: prompt}}, imageContent(images)...)

	raw, err := c.complete(ctx, c.cfg.Model, content, 4000)
	if err != nil {
		return nil, err
	}
	var dbg DebugSolutions
	if err := json.Unmarshal(stripFences(raw), &dbg); err != nil {
		return nil, fmt.Errorf("malformed debug payload: %v", err)
	}
	return &dbg, nil
}

func imageContent(images [][]byte) []Content {
	out := make([]Content, 0, len(images))
	for _, img := range images {
		out = append(out, Content{
			Type: "image_url",
			ImageURL: &ImageURL{
				URL: fmt.Sprintf("data:image/png;base64,%s", base64.StdEncoding.EncodeToString(img)),
			},
		})
	}
	return out
}

func (c *Client) providerPreferences() *ProviderPreferences {
	if len(c.cfg.Providers) == 0 {
		// No providers specified, use default OpenRouter routing
		return nil
	}
	allowFallbacks := false
	return &ProviderPreferences{
		Order:          c.cfg.Providers,
		AllowFallbacks: &allowFallbacks,
	}
}

// complete performs one chat completion with bounded retries. Retrying stops
// on context cancellation and on errors that retrying cannot fix (bad key,
// exhausted credits).
func (c *Client) complete(ctx context.Context, model string, content []Content, maxTokens int) (string, error) {
	request := ChatRequest{
		Model:       model,
		Messages:    []Message{{Role: "user", Content: content}},
		Temperature: 0.1,
		MaxTokens:   maxTokens,
		Provider:    c.providerPreferences(),
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(float64(initialDelay) * (1.5 * float64(attempt)))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}

		response, err := c.makeAPIRequest(ctx, request)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			var ce *ClientError
			if errors.As(err, &ce) && ce.Kind != ErrorOther {
				return "", err
			}
			lastErr = err
			continue
		}

		if len(response.Choices) == 0 {
			lastErr = errors.New("no choices in API response")
			continue
		}
		reply := response.Choices[0].Message.Content
		if reply == "" {
			lastErr = errors.New("empty completion")
			continue
		}
		return reply, nil
	}

	return "", fmt.Errorf("failed after %d attempts: %w", maxRetries, lastErr)
}

func (c *Client) makeAPIRequest(ctx context.Context, request ChatRequest) (*ChatResponse, error) {
	jsonData, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.cfg.APIKey))
	req.Header.Set("X-Title", "Screen Solver Tool")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %v", err)
	}

	// Classify failures by status before trusting the body: proxies return
	// HTML error pages that would otherwise surface as decode failures. A
	// JSON error body still wins for its message.
	if resp.StatusCode != http.StatusOK {
		var response ChatResponse
		if jsonErr := json.Unmarshal(body, &response); jsonErr == nil && response.Error != nil {
			ce := newAPIError(response.Error)
			if ce.Kind == ErrorOther {
				ce.Kind = kindForStatus(resp.StatusCode)
			}
			return nil, ce
		}
		return nil, &ClientError{
			Kind:    kindForStatus(resp.StatusCode),
			Message: fmt.Sprintf("API returned status %d", resp.StatusCode),
		}
	}

	var response ChatResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %v", err)
	}
	if response.Error != nil {
		return nil, newAPIError(response.Error)
	}
	return &response, nil
}

// stripFences removes a surrounding markdown code fence that models sometimes
// add despite the prompt asking for raw JSON.
func stripFences(reply string) []byte {
	s := strings.TrimSpace(reply)
	if strings.HasPrefix(s, "```") {
		if i := strings.IndexByte(s, '\n'); i >= 0 {
			s = s[i+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return []byte(strings.TrimSpace(s))
}
