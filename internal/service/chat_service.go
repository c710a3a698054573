package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"ai-notebook-assistant/internal/constant"
	"ai-notebook-assistant/internal/dto"
	"ai-notebook-assistant/internal/notebookapi"
	"ai-notebook-assistant/internal/pkg/logger"
	"ai-notebook-assistant/internal/repository/memory"
	"ai-notebook-assistant/pkg/embedding"
	"ai-notebook-assistant/pkg/llm"
	"ai-notebook-assistant/pkg/utils"

	"github.com/google/uuid"
)

var (
	ErrNoQuestion      = errors.New("last turn must be a non-empty user turn")
	ErrQuestionTooLong = errors.New("question is too long")
	ErrNoteAccess      = errors.New("notebook service rejected the credential")
	ErrContextLoad     = errors.New("failed to load selected context")
)

const (
	maxQuestionRunes = 8000
	// Older turns beyond this budget are left out of the prompt.
	maxHistoryRunes = 24000

	sourceChunkRunes   = 1000
	sourceChunkOverlap = 100
	sourceTopK         = 7
)

// ContextSource reads the notes and sources a user selected.
type ContextSource interface {
	GetNote(ctx context.Context, id int64) (*notebookapi.Note, error)
	GetNoteSource(ctx context.Context, id int64) (*notebookapi.NoteSource, error)
}

type ExchangeRequest struct {
	UserID    string
	Transport string
	SourceIDs []int64
	NoteIDs   []int64
	Turns     []dto.ChatTurn
}

// Exchange is a prepared prompt ready to be streamed.
type Exchange struct {
	ID       uuid.UUID
	Request  *ExchangeRequest
	Messages []llm.Message
}

type IChatService interface {
	// Prepare loads the selected context and builds the prompt. Failures
	// here happen before any response byte is written.
	Prepare(ctx context.Context, req *ExchangeRequest) (*Exchange, error)

	// Stream runs the model and forwards each delta in order.
	Stream(ctx context.Context, ex *Exchange, onDelta llm.DeltaFunc) error
}

type chatService struct {
	llmProvider llm.LLMProvider
	embedder    embedding.EmbeddingProvider
	source      ContextSource
	cache       *memory.ContextRepository
	publisher   IPublisherService
	logger      logger.ILogger
}

// NewChatService builds the relay's chat service. A nil embedder keeps
// source chunks in document order instead of ranking them.
func NewChatService(
	llmProvider llm.LLMProvider,
	embedder embedding.EmbeddingProvider,
	source ContextSource,
	cache *memory.ContextRepository,
	publisher IPublisherService,
	log logger.ILogger,
) IChatService {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &chatService{
		llmProvider: llmProvider,
		embedder:    embedder,
		source:      source,
		cache:       cache,
		publisher:   publisher,
		logger:      log,
	}
}

func (s *chatService) Prepare(ctx context.Context, req *ExchangeRequest) (*Exchange, error) {
	if len(req.Turns) == 0 {
		return nil, ErrNoQuestion
	}
	last := req.Turns[len(req.Turns)-1]
	if last.Role != constant.ChatRoleUser {
		return nil, ErrNoQuestion
	}
	// Blank text is allowed when something is selected.
	if strings.TrimSpace(last.Content) == "" && len(req.SourceIDs) == 0 && len(req.NoteIDs) == 0 {
		return nil, ErrNoQuestion
	}
	if utf8.RuneCountInString(last.Content) > maxQuestionRunes {
		return nil, ErrQuestionTooLong
	}

	var system strings.Builder
	var err error
	if len(req.NoteIDs) == 0 {
		err = s.writeSourceContext(ctx, &system, req.SourceIDs, last.Content)
	} else {
		err = s.writeNoteContext(ctx, &system, req.NoteIDs)
	}
	if err != nil {
		return nil, err
	}
	system.WriteString("\n")

	for _, content := range recentHistory(req.Turns[:len(req.Turns)-1], maxHistoryRunes) {
		system.WriteString(content)
		system.WriteString("\n")
	}
	system.WriteString("\n")
	system.WriteString(constant.ChatOutputInstruction)

	return &Exchange{
		ID:      uuid.New(),
		Request: req,
		Messages: []llm.Message{
			{Role: constant.ChatRoleSystem, Content: system.String()},
			{Role: constant.ChatRoleUser, Content: last.Content},
		},
	}, nil
}

func (s *chatService) Stream(ctx context.Context, ex *Exchange, onDelta llm.DeltaFunc) error {
	started := time.Now()
	var answerLen, deltas int

	err := s.llmProvider.ChatStream(ctx, ex.Messages, func(delta string) error {
		deltas++
		answerLen += len(delta)
		return onDelta(delta)
	})

	msg := dto.ExchangeCompletedMessage{
		ExchangeID: ex.ID.String(),
		UserID:     ex.Request.UserID,
		Transport:  ex.Request.Transport,
		SourceIDs:  ex.Request.SourceIDs,
		NoteIDs:    ex.Request.NoteIDs,
		Question:   ex.Messages[len(ex.Messages)-1].Content,
		AnswerLen:  answerLen,
		Deltas:     deltas,
		DurationMs: time.Since(started).Milliseconds(),
	}
	if err != nil {
		msg.Error = err.Error()
		s.logger.Error("ChatService", "LLM stream failed", map[string]interface{}{
			"exchange_id": msg.ExchangeID,
			"deltas":      deltas,
			"error":       err.Error(),
		})
	} else {
		s.logger.Info("ChatService", "Exchange completed", map[string]interface{}{
			"exchange_id": msg.ExchangeID,
			"deltas":      deltas,
			"duration_ms": msg.DurationMs,
		})
	}

	if s.publisher != nil {
		// The request context may already be cancelled by a disconnect.
		if pubErr := s.publisher.Publish(context.WithoutCancel(ctx), msg); pubErr != nil {
			s.logger.Warn("ChatService", "Failed to publish exchange", map[string]interface{}{"error": pubErr.Error()})
		}
	}
	return err
}

func (s *chatService) writeNoteContext(ctx context.Context, w *strings.Builder, ids []int64) error {
	for _, id := range ids {
		content, ok := s.cache.GetNote(id)
		if !ok {
			note, err := s.source.GetNote(ctx, id)
			if err != nil {
				skip, loadErr := s.mapLoadErr("note", id, err)
				if skip {
					continue
				}
				return loadErr
			}
			content = note.Content
			s.cache.SaveNote(id, content)
		}
		w.WriteString(content)
		w.WriteString("\n")
	}
	return nil
}

// writeSourceContext writes the sourceTopK chunks of the selected sources
// closest to query, best match first.
func (s *chatService) writeSourceContext(ctx context.Context, w *strings.Builder, ids []int64, query string) error {
	var pool []memory.SourceChunk
	for _, id := range ids {
		chunks, err := s.sourceChunks(ctx, id)
		if err != nil {
			if errors.Is(err, ErrContextLoad) {
				return err
			}
			skip, loadErr := s.mapLoadErr("source", id, err)
			if skip {
				continue
			}
			return loadErr
		}
		pool = append(pool, chunks...)
	}

	ranked, err := s.rankChunks(ctx, pool, query)
	if err != nil {
		return err
	}
	for _, chunk := range ranked {
		w.WriteString(chunk.Text)
		w.WriteString("\n")
	}
	return nil
}

// sourceChunks splits and embeds a source once per cache lifetime.
func (s *chatService) sourceChunks(ctx context.Context, id int64) ([]memory.SourceChunk, error) {
	if chunks, ok := s.cache.GetSourceChunks(id); ok {
		return chunks, nil
	}
	src, err := s.source.GetNoteSource(ctx, id)
	if err != nil {
		return nil, err
	}

	texts := utils.SplitText(src.Content, sourceChunkRunes, sourceChunkOverlap)
	chunks := make([]memory.SourceChunk, len(texts))
	for i, text := range texts {
		chunks[i] = memory.SourceChunk{SourceID: id, Index: i, Text: text}
		if s.embedder == nil {
			continue
		}
		vec, err := s.embedder.Embed(ctx, text)
		if err != nil {
			s.logger.Error("ChatService", "Failed to embed source chunk", map[string]interface{}{"id": id, "chunk": i, "error": err.Error()})
			return nil, fmt.Errorf("%w: embed source %d: %v", ErrContextLoad, id, err)
		}
		chunks[i].Vector = vec
	}

	s.cache.SaveSourceChunks(id, chunks)
	s.logger.Debug("ChatService", "Source indexed", map[string]interface{}{"id": id, "chunks": len(chunks)})
	return chunks, nil
}

func (s *chatService) rankChunks(ctx context.Context, pool []memory.SourceChunk, query string) ([]memory.SourceChunk, error) {
	if s.embedder == nil || strings.TrimSpace(query) == "" {
		if len(pool) > sourceTopK {
			pool = pool[:sourceTopK]
		}
		return pool, nil
	}

	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		s.logger.Error("ChatService", "Failed to embed question", map[string]interface{}{"error": err.Error()})
		return nil, fmt.Errorf("%w: embed question: %v", ErrContextLoad, err)
	}

	scores := make([]float64, len(pool))
	order := make([]int, len(pool))
	for i, chunk := range pool {
		scores[i] = embedding.Cosine(queryVec, chunk.Vector)
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })

	if len(order) > sourceTopK {
		order = order[:sourceTopK]
	}
	ranked := make([]memory.SourceChunk, len(order))
	for i, idx := range order {
		ranked[i] = pool[idx]
	}
	return ranked, nil
}

// mapLoadErr reports whether a missing item can be skipped, or the error to
// return otherwise.
func (s *chatService) mapLoadErr(kind string, id int64, err error) (bool, error) {
	switch {
	case errors.Is(err, notebookapi.ErrNotFound):
		s.logger.Warn("ChatService", "Selected context not found, skipping", map[string]interface{}{"kind": kind, "id": id})
		return true, nil
	case errors.Is(err, notebookapi.ErrUnauthorized):
		return false, ErrNoteAccess
	default:
		s.logger.Error("ChatService", "Failed to load context", map[string]interface{}{"kind": kind, "id": id, "error": err.Error()})
		return false, fmt.Errorf("%w: %s %d: %v", ErrContextLoad, kind, id, err)
	}
}

// recentHistory returns the newest turn contents that fit in budget runes,
// oldest first. The turn that crosses the budget keeps only its tail.
func recentHistory(turns []dto.ChatTurn, budget int) []string {
	var kept []string
	for i := len(turns) - 1; i >= 0 && budget > 0; i-- {
		content := turns[i].Content
		n := utf8.RuneCountInString(content)
		if n > budget {
			runes := []rune(content)
			content = string(runes[n-budget:])
			n = budget
		}
		kept = append(kept, content)
		budget -= n
	}
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return kept
}
