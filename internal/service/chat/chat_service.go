// internal/service/chat/chat_service.go
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"recipe-gateway/internal/domain/chat"
	xerrors "recipe-gateway/internal/pkg/errors"
	"recipe-gateway/internal/pkg/metrics"

	"go.uber.org/zap"
)

const (
	DefaultSystemPrompt = "You are a helpful assistant specialized in recipes and cooking instructions. Use provided recipe documents when relevant."
	searchTopK          = 4
	maxTokens           = 800
	temperature         = 0.2
)

type Config struct {
	VectorURL string
	LLMURL    string
	APIKey    string
	Model     string
	Timeout   time.Duration
}

type ChatService struct {
	cfg     Config
	http    *http.Client
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewChatService(cfg Config, logger *zap.Logger, m *metrics.Metrics) *ChatService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Model == "" {
		cfg.Model = "llama-3.1-8b-instant"
	}
	return &ChatService{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
		metrics: m,
	}
}

// Configured reports whether an LLM API key is set.
func (s *ChatService) Configured() bool {
	return s.cfg.APIKey != ""
}

// Search queries the vector backend. Any failure yields nil, nil: retrieval
// is best effort and the chat proceeds without references.
func (s *ChatService) Search(ctx context.Context, q string, k int) []chat.Document {
	start := time.Now()
	payload, _ := json.Marshal(map[string]interface{}{"q": q, "k": k})

	resp, err := s.postJSON(ctx, s.cfg.VectorURL+"/search", payload, nil)
	if err != nil {
		s.metrics.ObserveUpstream("search", "unreachable", time.Since(start))
		s.logger.Warn("vector query failed", zap.Error(err))
		return nil
	}
	if resp.status < 200 || resp.status >= 300 {
		s.metrics.ObserveUpstream("search", "rejected", time.Since(start))
		s.logger.Warn("vector query rejected", zap.Int("status", resp.status))
		return nil
	}

	var out struct {
		Results []chat.Document `json:"results"`
	}
	if err := json.Unmarshal(resp.body, &out); err != nil {
		s.metrics.ObserveUpstream("search", "rejected", time.Since(start))
		s.logger.Warn("vector query returned invalid JSON", zap.Error(err))
		return nil
	}
	s.metrics.ObserveUpstream("search", "ok", time.Since(start))
	return out.Results
}

// Ask runs retrieval and then one completion call. system replaces the
// default system prompt when non-nil.
func (s *ChatService) Ask(ctx context.Context, message string, system *string) (*chat.ChatResponse, error) {
	if !s.Configured() {
		return nil, fmt.Errorf("LLM API key: %w", xerrors.ErrNotConfigured)
	}

	docs := s.Search(ctx, message, searchTopK)
	messages := BuildMessages(message, system, docs)

	payload, err := json.Marshal(map[string]interface{}{
		"model":       s.cfg.Model,
		"messages":    messages,
		"max_tokens":  maxTokens,
		"temperature": temperature,
	})
	if err != nil {
		return nil, xerrors.Wrap(err, "encode completion request")
	}

	start := time.Now()
	resp, err := s.postJSON(ctx, s.cfg.LLMURL, payload, map[string]string{
		"Authorization": "Bearer " + s.cfg.APIKey,
	})
	if err != nil {
		s.metrics.ObserveUpstream("chat", "unreachable", time.Since(start))
		return nil, xerrors.Unreachable(err)
	}
	if resp.status < 200 || resp.status >= 300 {
		s.metrics.ObserveUpstream("chat", "rejected", time.Since(start))
		s.logger.Warn("completion rejected", zap.Int("status", resp.status))
		return nil, &xerrors.UpstreamError{
			Kind:   xerrors.KindUpstreamRejected,
			Status: resp.status,
			Body:   resp.body,
		}
	}
	s.metrics.ObserveUpstream("chat", "ok", time.Since(start))

	var completion struct {
		Choices []struct {
			Message struct {
				Content *string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(resp.body, &completion); err != nil {
		return nil, xerrors.Wrap(err, "decode completion response")
	}

	var reply *string
	if len(completion.Choices) > 0 {
		reply = completion.Choices[0].Message.Content
	}
	if docs == nil {
		docs = []chat.Document{}
	}
	return &chat.ChatResponse{Reply: reply, Sources: docs}, nil
}

// BuildMessages assembles the system prompt, the optional reference block and
// the user message.
func BuildMessages(message string, system *string, docs []chat.Document) []chat.Message {
	prompt := DefaultSystemPrompt
	if system != nil {
		prompt = *system
	}
	messages := []chat.Message{{Role: "system", Content: prompt}}
	if len(docs) > 0 {
		messages = append(messages, chat.Message{
			Role:    "system",
			Content: "Reference documents (use to answer if applicable):\n" + chat.FormatDocuments(docs),
		})
	}
	return append(messages, chat.Message{Role: "user", Content: message})
}

// Train forwards a training job to the vector backend and returns its JSON
// reply. A non-2xx reply is an UpstreamError carrying status and body.
func (s *ChatService) Train(ctx context.Context, req chat.TrainRequest) (json.RawMessage, error) {
	payload, err := json.Marshal(req.WithDefaults())
	if err != nil {
		return nil, xerrors.Wrap(err, "encode train request")
	}

	start := time.Now()
	resp, err := s.postJSON(ctx, s.cfg.VectorURL+"/train", payload, nil)
	if err != nil {
		s.metrics.ObserveUpstream("train", "unreachable", time.Since(start))
		return nil, xerrors.Unreachable(err)
	}
	if resp.status < 200 || resp.status >= 300 {
		s.metrics.ObserveUpstream("train", "rejected", time.Since(start))
		return nil, &xerrors.UpstreamError{
			Kind:   xerrors.KindUpstreamRejected,
			Status: resp.status,
			Body:   resp.body,
		}
	}
	s.metrics.ObserveUpstream("train", "ok", time.Since(start))

	if !json.Valid(resp.body) {
		return nil, fmt.Errorf("train API returned invalid JSON")
	}
	return resp.body, nil
}

type rawResponse struct {
	status int
	body   []byte
}

func (s *ChatService) postJSON(ctx context.Context, url string, payload []byte, headers map[string]string) (*rawResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return &rawResponse{status: resp.StatusCode, body: body}, nil
}
