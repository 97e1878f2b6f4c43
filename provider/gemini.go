package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"quizzy-backend/models"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

const (
	DefaultGeminiEmbeddingModel = "gemini-embedding-001"
	DefaultGeminiChatModel      = "gemini-2.5-flash"
)

var errNoUserTurn = errors.New("conversation must end with a user turn")

// GeminiConfig holds the settings for the Gemini adapter
type GeminiConfig struct {
	APIKey            string
	EmbeddingModel    string
	ChatModel         string
	EmbedTimeout      time.Duration
	CompletionTimeout time.Duration
}

// Gemini serves embeddings and chat completions through generative-ai-go
type Gemini struct {
	client            *genai.Client
	embeddingModel    string
	chatModel         string
	embedTimeout      time.Duration
	completionTimeout time.Duration
}

// NewGemini creates a Gemini client with API key auth
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("GEMINI_API_KEY is required for the gemini provider")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	g := &Gemini{
		client:            client,
		embeddingModel:    cfg.EmbeddingModel,
		chatModel:         cfg.ChatModel,
		embedTimeout:      cfg.EmbedTimeout,
		completionTimeout: cfg.CompletionTimeout,
	}
	if g.embeddingModel == "" {
		g.embeddingModel = DefaultGeminiEmbeddingModel
	}
	if g.chatModel == "" {
		g.chatModel = DefaultGeminiChatModel
	}
	return g, nil
}

// Info describes the configured models
func (g *Gemini) Info() Info {
	return Info{Provider: "gemini", EmbeddingModel: g.embeddingModel, ChatModel: g.chatModel}
}

// Close releases the underlying client connection
func (g *Gemini) Close() error {
	return g.client.Close()
}

// Embed converts text into a vector with the embedding model
func (g *Gemini) Embed(ctx context.Context, text string) (EmbeddingResult, error) {
	if g.embedTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.embedTimeout)
		defer cancel()
	}

	res, err := g.client.EmbeddingModel(g.embeddingModel).EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return EmbeddingResult{}, fmt.Errorf("%w: gemini embedding: %w", ErrProvider, err)
	}
	if res == nil || res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return EmbeddingResult{}, fmt.Errorf("%w: gemini returned no embedding", ErrProvider)
	}
	return EmbeddingResult{Vector: res.Embedding.Values}, nil
}

// CompleteStream starts a chat session seeded with all but the last turn and streams the reply
func (g *Gemini) CompleteStream(ctx context.Context, messages []models.ChatTurn) (Stream, error) {
	system, history, last, err := splitGeminiMessages(messages)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProvider, err)
	}

	var cancel context.CancelFunc
	if g.completionTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, g.completionTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	model := g.client.GenerativeModel(g.chatModel)
	if system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	cs := model.StartChat()
	cs.History = history

	return &geminiStream{
		ctx:    ctx,
		iter:   cs.SendMessageStream(ctx, genai.Text(last)),
		cancel: cancel,
	}, nil
}

// splitGeminiMessages maps turns onto Gemini's shape: system turns become the
// system instruction, assistant turns use the "model" role, and the final user
// turn is sent as the new message.
func splitGeminiMessages(messages []models.ChatTurn) (string, []*genai.Content, string, error) {
	var system []string
	var turns []models.ChatTurn
	for _, m := range messages {
		if m.Role == models.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		turns = append(turns, m)
	}
	if len(turns) == 0 || turns[len(turns)-1].Role != models.RoleUser {
		return "", nil, "", errNoUserTurn
	}

	history := make([]*genai.Content, 0, len(turns)-1)
	for _, m := range turns[:len(turns)-1] {
		role := "user"
		if m.Role == models.RoleAssistant {
			role = "model"
		}
		history = append(history, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(m.Content)}})
	}

	return strings.Join(system, "\n\n"), history, turns[len(turns)-1].Content, nil
}

// responseText concatenates the text parts of the first candidate
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String()
}

type geminiStream struct {
	ctx    context.Context
	iter   *genai.GenerateContentResponseIterator
	cancel context.CancelFunc

	finished  bool
	closeOnce sync.Once
}

func (s *geminiStream) Next() (CompletionDelta, error) {
	if s.finished {
		return CompletionDelta{}, io.EOF
	}

	resp, err := s.iter.Next()
	if errors.Is(err, iterator.Done) {
		s.finished = true
		return CompletionDelta{IsFinal: true}, nil
	}
	if err != nil {
		if ctxErr := s.ctx.Err(); ctxErr != nil {
			return CompletionDelta{}, fmt.Errorf("%w: gemini stream: %w", ErrProvider, ctxErr)
		}
		return CompletionDelta{}, fmt.Errorf("%w: gemini stream: %w", ErrProvider, err)
	}
	return CompletionDelta{Text: responseText(resp)}, nil
}

func (s *geminiStream) Close() error {
	s.closeOnce.Do(s.cancel)
	return nil
}

var (
	_ Embedder  = (*Gemini)(nil)
	_ Completer = (*Gemini)(nil)
)
