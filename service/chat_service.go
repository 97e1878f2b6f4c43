package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"quizzy-backend/logger"
	"quizzy-backend/models"
	"quizzy-backend/provider"
	"quizzy-backend/rag"

	"golang.org/x/sync/singleflight"
)

var (
	ErrValidation = errors.New("invalid chat request")
	ErrAborted    = errors.New("chat stream aborted")
)

const defaultBuildTimeout = 10 * time.Minute

// CorpusSource lists the records to index
type CorpusSource interface {
	ListAll(ctx context.Context) ([]models.Infraction, error)
}

// FrameWriter delivers one protocol frame to the client
type FrameWriter interface {
	WriteFrame(frame any) error
}

// ChatService answers questions from the indexed corpus
type ChatService struct {
	source       CorpusSource
	embedder     provider.Embedder
	completer    provider.Completer
	info         provider.Info
	topK         int
	historyLimit int
	language     string
	buildTimeout time.Duration
	log          *logger.Logger

	index     *rag.Index
	retriever *rag.Retriever
	assembler *rag.PromptAssembler
	builds    singleflight.Group
	// buildMu serializes lazy builds with Reinitialize
	buildMu sync.Mutex
}

// ChatServiceOption is a functional option for ChatService
type ChatServiceOption func(*ChatService)

// ChatWithCorpusSource sets where infractions are read from
func ChatWithCorpusSource(source CorpusSource) ChatServiceOption {
	return func(s *ChatService) {
		s.source = source
	}
}

// ChatWithEmbedder sets the embedding provider for documents and queries
func ChatWithEmbedder(embedder provider.Embedder) ChatServiceOption {
	return func(s *ChatService) {
		s.embedder = embedder
	}
}

// ChatWithCompleter sets the completion provider
func ChatWithCompleter(completer provider.Completer) ChatServiceOption {
	return func(s *ChatService) {
		s.completer = completer
	}
}

// ChatWithProviderInfo sets the backend description reported by Status
func ChatWithProviderInfo(info provider.Info) ChatServiceOption {
	return func(s *ChatService) {
		s.info = info
	}
}

// ChatWithTopK sets how many documents ground each answer
func ChatWithTopK(k int) ChatServiceOption {
	return func(s *ChatService) {
		s.topK = k
	}
}

// ChatWithHistoryLimit sets how many prior turns reach the model
func ChatWithHistoryLimit(n int) ChatServiceOption {
	return func(s *ChatService) {
		s.historyLimit = n
	}
}

// ChatWithLanguage sets the answer language
func ChatWithLanguage(language string) ChatServiceOption {
	return func(s *ChatService) {
		s.language = language
	}
}

// ChatWithBuildTimeout bounds a whole index build
func ChatWithBuildTimeout(d time.Duration) ChatServiceOption {
	return func(s *ChatService) {
		s.buildTimeout = d
	}
}

// ChatWithLogger sets the logger
func ChatWithLogger(log *logger.Logger) ChatServiceOption {
	return func(s *ChatService) {
		s.log = log
	}
}

// NewChatService creates a new chat service with an empty index
func NewChatService(opts ...ChatServiceOption) *ChatService {
	s := &ChatService{
		topK:         rag.DefaultTopK,
		historyLimit: rag.DefaultHistoryLimit,
		language:     rag.DefaultLanguage,
		buildTimeout: defaultBuildTimeout,
		log:          logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.log = s.log.With("component", "ChatService")
	s.index = rag.NewIndex(s.embedder, rag.WithIndexLogger(s.log))
	s.retriever = rag.NewRetriever(s.index, s.embedder)
	s.assembler = rag.NewPromptAssembler(s.historyLimit, s.language)
	return s
}

func (s *ChatService) ready() error {
	switch {
	case s.source == nil:
		return errors.New("corpus source not set")
	case s.embedder == nil:
		return errors.New("embedder not set")
	case s.completer == nil:
		return errors.New("completer not set")
	}
	return nil
}

// build loads the corpus and publishes a new generation
func (s *ChatService) build(ctx context.Context) (*rag.Generation, error) {
	infractions, err := s.source.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list infractions: %w", err)
	}
	if len(infractions) == 0 {
		s.log.Warn("no infractions found, publishing an empty index")
	}

	gen, err := s.index.Build(ctx, rag.RenderDocuments(infractions))
	if err != nil {
		return nil, fmt.Errorf("failed to build vector index: %w", err)
	}
	return gen, nil
}

// ensureIndex builds the index once if it has never been built. Concurrent
// callers share a single build, which runs detached from any one caller's
// cancellation and is bounded by the build timeout.
func (s *ChatService) ensureIndex(ctx context.Context) error {
	if s.index.IsInitialized() {
		return nil
	}

	ch := s.builds.DoChan("lazy-build", func() (interface{}, error) {
		s.buildMu.Lock()
		defer s.buildMu.Unlock()
		// a Reinitialize may have published while this build waited
		if s.index.IsInitialized() {
			return nil, nil
		}
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.buildTimeout)
		defer cancel()
		s.log.Info("initializing vector index")
		return s.build(bctx)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Warmup triggers the lazy build; it is meant to run once at startup
func (s *ChatService) Warmup(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.ensureIndex(ctx)
}

// Reinitialize rebuilds the index from the corpus and returns the document count.
// It waits for any build already running.
func (s *ChatService) Reinitialize(ctx context.Context) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}

	s.buildMu.Lock()
	defer s.buildMu.Unlock()

	bctx, cancel := context.WithTimeout(ctx, s.buildTimeout)
	defer cancel()

	gen, err := s.build(bctx)
	if err != nil {
		return 0, err
	}
	return gen.Len(), nil
}

// Status describes the live index without side effects
type Status struct {
	Initialized    bool       `json:"initialized"`
	DocumentsCount int        `json:"documentsCount"`
	Provider       string     `json:"provider,omitempty"`
	EmbeddingModel string     `json:"embeddingModel,omitempty"`
	ChatModel      string     `json:"chatModel,omitempty"`
	BuiltAt        *time.Time `json:"builtAt,omitempty"`
}

// Status reports whether the index is initialized and how many documents it holds
func (s *ChatService) Status() Status {
	st := Status{
		Provider:       s.info.Provider,
		EmbeddingModel: s.info.EmbeddingModel,
		ChatModel:      s.info.ChatModel,
	}
	if gen := s.index.Snapshot(); gen != nil {
		builtAt := gen.BuiltAt()
		st.Initialized = true
		st.DocumentsCount = gen.Len()
		st.BuiltAt = &builtAt
	}
	return st
}

// ChatRequest is one question plus the prior conversation
type ChatRequest struct {
	Message string
	History []models.ChatTurn
}

func (r ChatRequest) validate() error {
	if strings.TrimSpace(r.Message) == "" {
		return fmt.Errorf("%w: message is required", ErrValidation)
	}
	for i, turn := range r.History {
		if !turn.Role.Valid() {
			return fmt.Errorf("%w: conversationHistory[%d] has unknown role %q", ErrValidation, i, turn.Role)
		}
	}
	return nil
}

// SessionState is the lifecycle stage of one chat session
type SessionState int

const (
	StateIdle SessionState = iota
	StateInitializing
	StateRetrieving
	StateGenerating
	StateCompleted
	StateFailed
	StateAborted
)

func (st SessionState) String() string {
	switch st {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateRetrieving:
		return "retrieving"
	case StateGenerating:
		return "generating"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(st))
	}
}

// Session drives one streamed answer
type Session struct {
	mu      sync.Mutex
	state   SessionState
	stream  provider.Stream
	sources []models.SourceCitation
	log     *logger.Logger

	closeOnce sync.Once
}

// Open prepares a session: it builds the index if needed, retrieves context
// and opens the completion stream. Every error here happens before any frame
// has been written.
func (s *ChatService) Open(ctx context.Context, req ChatRequest) (*Session, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if err := s.ready(); err != nil {
		return nil, err
	}

	sess := &Session{state: StateIdle, log: s.log}

	if !s.index.IsInitialized() {
		sess.setState(StateInitializing)
		if err := s.ensureIndex(ctx); err != nil {
			return nil, sess.failOpen(ctx, err)
		}
	}

	sess.setState(StateRetrieving)
	results, err := s.retriever.Retrieve(ctx, req.Message, s.topK)
	if err != nil {
		return nil, sess.failOpen(ctx, err)
	}

	docs := make([]rag.Document, len(results))
	sess.sources = make([]models.SourceCitation, len(results))
	for i, r := range results {
		docs[i] = r.Document
		sess.sources[i] = r.Document.Citation()
	}

	sess.setState(StateGenerating)
	stream, err := s.completer.CompleteStream(ctx, s.assembler.Build(docs, req.History, req.Message))
	if err != nil {
		if !errors.Is(err, provider.ErrProvider) {
			err = fmt.Errorf("%w: %w", provider.ErrProvider, err)
		}
		return nil, sess.failOpen(ctx, fmt.Errorf("failed to open completion stream: %w", err))
	}
	sess.stream = stream

	return sess, nil
}

// failOpen marks the session failed, or aborted when the caller went away
func (sess *Session) failOpen(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		sess.setState(StateAborted)
		return fmt.Errorf("%w: %w", ErrAborted, ctxErr)
	}
	sess.setState(StateFailed)
	return err
}

// State returns the current lifecycle stage
func (sess *Session) State() SessionState {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.state
}

func (sess *Session) setState(st SessionState) {
	sess.mu.Lock()
	sess.state = st
	sess.mu.Unlock()
}

// Sources returns the citations of the documents used for this answer
func (sess *Session) Sources() []models.SourceCitation {
	return sess.sources
}

// Run forwards deltas to w until the provider's done marker, then writes one
// terminal frame. A cancelled ctx or a failing write aborts the session; a
// provider error fails it. The upstream stream is always released.
func (sess *Session) Run(ctx context.Context, w FrameWriter) error {
	defer sess.Close()

	var full strings.Builder
	for {
		if err := ctx.Err(); err != nil {
			return sess.abort(err)
		}

		delta, err := sess.stream.Next()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return sess.abort(ctxErr)
			}
			if errors.Is(err, io.EOF) {
				err = fmt.Errorf("%w: stream ended without done marker", provider.ErrProvider)
			}
			sess.setState(StateFailed)
			return err
		}

		if delta.Text != "" {
			full.WriteString(delta.Text)
			if err := w.WriteFrame(models.DeltaFrame{Content: delta.Text, Done: false}); err != nil {
				return sess.abort(err)
			}
		}

		if delta.IsFinal {
			sources := sess.sources
			if sources == nil {
				sources = []models.SourceCitation{}
			}
			terminal := models.TerminalFrame{
				Content:      "",
				Done:         true,
				Sources:      sources,
				FullResponse: full.String(),
			}
			if err := w.WriteFrame(terminal); err != nil {
				return sess.abort(err)
			}
			sess.setState(StateCompleted)
			return nil
		}
	}
}

func (sess *Session) abort(cause error) error {
	sess.setState(StateAborted)
	sess.Close()
	return fmt.Errorf("%w: %w", ErrAborted, cause)
}

// Close releases the upstream stream; it is safe to call more than once
func (sess *Session) Close() {
	sess.closeOnce.Do(func() {
		if sess.stream == nil {
			return
		}
		if err := sess.stream.Close(); err != nil {
			sess.log.Debug("closing completion stream", "error", err)
		}
	})
}
