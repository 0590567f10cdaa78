package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultBaseURL     = "https://api.openai.com/v1"
	defaultHTTPTimeout = 30 * time.Second
	requestTemperature = 0.3

	doctorQuestionCount = 3

	systemPrompt = `You are a medical record structuring assistant for atopic dermatitis (eczema).
Given a patient's free-text log, return ONLY a JSON object with these keys:
- summary (string): a short summary of the entry
- itch_score (number|null): subjective itch severity 0-10 if mentioned, else null
- triggers (string[]): potential triggers mentioned
- products (string[]): any skincare/medical products mentioned
- environment (string[]): environmental factors mentioned
- doctor_questions (string[]): exactly 3 follow-up questions a doctor might ask
Return ONLY valid JSON. No markdown, no explanation.`
)

var errEmptyCompletion = errors.New("ai: empty completion")

// StructuredNote is the best-effort structured view of a raw entry.
type StructuredNote struct {
	Summary         string   `json:"summary"`
	ItchScore       *float64 `json:"itch_score"`
	Triggers        []string `json:"triggers"`
	Products        []string `json:"products"`
	Environment     []string `json:"environment"`
	DoctorQuestions []string `json:"doctor_questions"`
}

// Structurer turns free text into a StructuredNote. Implementations are
// best-effort collaborators: callers treat any error as "no structuring"
// and never fail the surrounding operation because of one.
type Structurer interface {
	Structure(ctx context.Context, rawText string) (*StructuredNote, error)
}

// Disabled returns a Structurer that always reports no structuring.
// Used when no API key is configured.
func Disabled() Structurer {
	return disabledStructurer{}
}

type disabledStructurer struct{}

func (disabledStructurer) Structure(ctx context.Context, rawText string) (*StructuredNote, error) {
	return nil, nil
}

// ChatStructurerConfig bundles configuration for the chat-completions client.
type ChatStructurerConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// ChatStructurer calls an OpenAI-compatible /chat/completions endpoint and
// parses the JSON object the model returns.
type ChatStructurer struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewChatStructurer builds a chat-completions Structurer. The base URL
// should include the /v1 prefix.
func NewChatStructurer(cfg ChatStructurerConfig) *ChatStructurer {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ChatStructurer{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		model:      strings.TrimSpace(cfg.Model),
		httpClient: httpClient,
		logger:     logger,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Structure implements Structurer over the chat completions API.
func (s *ChatStructurer) Structure(ctx context.Context, rawText string) (*StructuredNote, error) {
	if s.model == "" {
		return nil, errors.New("ai: model is required")
	}

	payload := chatRequest{
		Model: s.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: rawText},
		},
		Temperature: requestTemperature,
	}
	payload.ResponseFormat.Type = "json_object"

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	request.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		request.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	response, err := s.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("ai: request failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("ai: api status %s", response.Status)
	}

	var decoded chatResponse
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("ai: decode response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return nil, errEmptyCompletion
	}

	content := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if content == "" {
		return nil, errEmptyCompletion
	}

	var note StructuredNote
	if err := json.Unmarshal([]byte(content), &note); err != nil {
		return nil, fmt.Errorf("ai: parse completion: %w", err)
	}
	if len(note.DoctorQuestions) != doctorQuestionCount {
		return nil, fmt.Errorf("ai: expected %d doctor questions, got %d", doctorQuestionCount, len(note.DoctorQuestions))
	}

	return &note, nil
}
