package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"quizzy-backend/models"
)

const (
	DefaultOllamaHost           = "http://localhost:11434"
	DefaultOllamaEmbeddingModel = "nomic-embed-text:latest"
	DefaultOllamaChatModel      = "llama3.2:latest"
)

// OllamaConfig holds the settings for the Ollama adapter
type OllamaConfig struct {
	Host              string
	EmbeddingModel    string
	ChatModel         string
	EmbedTimeout      time.Duration
	CompletionTimeout time.Duration
	HTTPClient        *http.Client
}

// Ollama talks to a local Ollama server for both embeddings and chat
type Ollama struct {
	host              string
	embeddingModel    string
	chatModel         string
	embedTimeout      time.Duration
	completionTimeout time.Duration
	httpClient        *http.Client
}

// NewOllama creates an Ollama adapter, filling defaults for blank settings
func NewOllama(cfg OllamaConfig) *Ollama {
	o := &Ollama{
		host:              strings.TrimRight(cfg.Host, "/"),
		embeddingModel:    cfg.EmbeddingModel,
		chatModel:         cfg.ChatModel,
		embedTimeout:      cfg.EmbedTimeout,
		completionTimeout: cfg.CompletionTimeout,
		httpClient:        cfg.HTTPClient,
	}
	if o.host == "" {
		o.host = DefaultOllamaHost
	}
	if o.embeddingModel == "" {
		o.embeddingModel = DefaultOllamaEmbeddingModel
	}
	if o.chatModel == "" {
		o.chatModel = DefaultOllamaChatModel
	}
	if o.httpClient == nil {
		// Per-call deadlines come from the request context; a client timeout would cut long streams
		o.httpClient = &http.Client{}
	}
	return o
}

// Info describes the configured models
func (o *Ollama) Info() Info {
	return Info{Provider: "ollama", EmbeddingModel: o.embeddingModel, ChatModel: o.chatModel}
}

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// ollamaEmbedResponse accepts both the /api/embed batch shape and the legacy single-vector shape
type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Embedding  []float32   `json:"embedding"`
	Error      string      `json:"error"`
}

// Embed converts text into a vector with the embedding model
func (o *Ollama) Embed(ctx context.Context, text string) (EmbeddingResult, error) {
	if o.embedTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.embedTimeout)
		defer cancel()
	}

	resp, err := o.post(ctx, "/api/embed", ollamaEmbedRequest{Model: o.embeddingModel, Input: text})
	if err != nil {
		return EmbeddingResult{}, err
	}
	defer resp.Body.Close()

	var body ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return EmbeddingResult{}, fmt.Errorf("%w: decoding ollama embedding: %v", ErrProvider, err)
	}
	if body.Error != "" {
		return EmbeddingResult{}, fmt.Errorf("%w: ollama: %s", ErrProvider, body.Error)
	}

	switch {
	case len(body.Embeddings) > 0 && len(body.Embeddings[0]) > 0:
		return EmbeddingResult{Vector: body.Embeddings[0]}, nil
	case len(body.Embedding) > 0:
		return EmbeddingResult{Vector: body.Embedding}, nil
	default:
		return EmbeddingResult{}, fmt.Errorf("%w: ollama returned no embedding", ErrProvider)
	}
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type ollamaStreamChunk struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
	Error   string        `json:"error"`
}

// CompleteStream opens a streamed /api/chat request
func (o *Ollama) CompleteStream(ctx context.Context, messages []models.ChatTurn) (Stream, error) {
	var cancel context.CancelFunc
	if o.completionTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, o.completionTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	req := ollamaChatRequest{Model: o.chatModel, Stream: true}
	for _, m := range messages {
		req.Messages = append(req.Messages, ollamaMessage{Role: string(m.Role), Content: m.Content})
	}

	resp, err := o.post(ctx, "/api/chat", req)
	if err != nil {
		cancel()
		return nil, err
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	return &ollamaStream{body: resp.Body, scanner: scanner, cancel: cancel, ctx: ctx}, nil
}

func (o *Ollama) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: marshaling request: %v", ErrProvider, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.host+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %v", ErrProvider, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: sending request to ollama: %w", ErrProvider, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: ollama returned status %d: %s", ErrProvider, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return resp, nil
}

type ollamaStream struct {
	ctx     context.Context
	body    io.ReadCloser
	scanner *bufio.Scanner
	cancel  context.CancelFunc

	finished  bool
	closeOnce sync.Once
}

func (s *ollamaStream) Next() (CompletionDelta, error) {
	if s.finished {
		return CompletionDelta{}, io.EOF
	}

	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var chunk ollamaStreamChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return CompletionDelta{}, fmt.Errorf("%w: malformed ollama chunk: %v", ErrProvider, err)
		}
		if chunk.Error != "" {
			return CompletionDelta{}, fmt.Errorf("%w: ollama: %s", ErrProvider, chunk.Error)
		}
		if chunk.Done {
			s.finished = true
		}
		return CompletionDelta{Text: chunk.Message.Content, IsFinal: chunk.Done}, nil
	}

	if err := s.scanner.Err(); err != nil {
		if ctxErr := s.ctx.Err(); ctxErr != nil {
			return CompletionDelta{}, fmt.Errorf("%w: reading ollama stream: %w", ErrProvider, ctxErr)
		}
		return CompletionDelta{}, fmt.Errorf("%w: reading ollama stream: %v", ErrProvider, err)
	}
	return CompletionDelta{}, fmt.Errorf("%w: ollama stream ended without done marker", ErrProvider)
}

func (s *ollamaStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		err = s.body.Close()
	})
	return err
}

var (
	_ Embedder  = (*Ollama)(nil)
	_ Completer = (*Ollama)(nil)
)
