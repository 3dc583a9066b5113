// Package relay implements the streaming chat relay: it forwards a user turn
// with conversation history to the upstream completion API, re-emits the
// streamed response as server-sent events, executes media-generation tool
// calls embedded in the stream, and persists the transcript without ever
// blocking text delivery.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/aibuddy/buddy-server/internal/llm"
	"github.com/aibuddy/buddy-server/internal/media"
	"github.com/aibuddy/buddy-server/internal/models"
	"go.uber.org/zap"
)

// DefaultSystemPrompt is the fixed instruction prepended to every upstream
// request.
const DefaultSystemPrompt = "You are AI Buddy, a helpful and friendly AI assistant. " +
	"Provide clear, accurate, and helpful responses to user queries. Be conversational and supportive. " +
	"When the user asks for an image or a video, call the matching generation tool with a concise descriptive prompt."

const defaultTitle = "New Conversation"

// Store is the slice of the history store the relay depends on. It is
// injected so the relay can be exercised against a substitute store.
type Store interface {
	FindConversation(ctx context.Context, id, userID string) (*models.Conversation, error)
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error)
	SaveMessage(ctx context.Context, msg *models.Message) error
	TouchConversation(ctx context.Context, id string) error
	UpdateConversationTitle(ctx context.Context, id, title string) error
}

// Completer streams an upstream chat completion, delivering chunks in arrival
// order with llm.StreamEnd last.
type Completer interface {
	StreamChat(ctx context.Context, msgs []llm.ChatMessage, fn func(llm.Chunk) error) error
}

// Generator issues a single-shot media generation request.
type Generator interface {
	Generate(ctx context.Context, kind media.Kind, prompt string) media.Result
}

// PersistOutcome records whether the assistant turn reached the store. It is
// logged at the boundary so the taken path is observable, not inferred from
// the absence of an error.
type PersistOutcome string

const (
	PersistSaved     PersistOutcome = "saved"
	PersistEphemeral PersistOutcome = "skipped: ephemeral"
	PersistEmpty     PersistOutcome = "skipped: empty response"
	PersistFailed    PersistOutcome = "skipped: store write failed"
)

// Attachment describes an uploaded file. Only its summary enters the prompt;
// no binary processing happens in the relay.
type Attachment struct {
	Name string
	Type string
}

// Request is one chat invocation. UserID is empty for guests.
type Request struct {
	UserID         string
	ConversationID string
	Message        string
	Attachments    []Attachment
}

type Options struct {
	HistoryWindow int
	SystemPrompt  string
}

type Service struct {
	store     Store
	completer Completer
	generator Generator
	logger    *zap.Logger
	opts      Options
}

func NewService(store Store, completer Completer, generator Generator, logger *zap.Logger, opts Options) *Service {
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = 20
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = DefaultSystemPrompt
	}
	return &Service{
		store:     store,
		completer: completer,
		generator: generator,
		logger:    logger,
		opts:      opts,
	}
}

// Serve handles one chat request end to end. Anything that fails before the
// first streamed byte produces a conventional JSON error response; anything
// after is folded into the event stream, which always closes cleanly.
func (s *Service) Serve(ctx context.Context, w http.ResponseWriter, req Request) {
	if s.completer == nil {
		writeJSONError(w, http.StatusInternalServerError, "OpenAI API key not configured")
		return
	}
	if strings.TrimSpace(req.Message) == "" && len(req.Attachments) == 0 {
		writeJSONError(w, http.StatusBadRequest, "Message or files required")
		return
	}

	userContent := summarizeAttachments(req.Attachments, req.Message)

	conv, history := s.resolveConversation(ctx, req)
	persisted := conv != nil
	if persisted {
		// The user turn is written before the upstream call so a crash during
		// streaming cannot lose it.
		userMsg := &models.Message{ConvID: conv.ID, Role: "user", Content: userContent}
		if err := s.store.SaveMessage(ctx, userMsg); err != nil {
			s.logger.Error("failed to save user message, serving ephemeral",
				zap.String("conversation_id", conv.ID),
				zap.Error(err))
			persisted = false
		} else {
			s.maybeDeriveTitle(ctx, conv, req.Message)
		}
	}

	msgs := make([]llm.ChatMessage, 0, len(history)+2)
	msgs = append(msgs, llm.ChatMessage{Role: "system", Content: s.opts.SystemPrompt})
	for _, m := range history {
		msgs = append(msgs, llm.ChatMessage{Role: m.Role, Content: m.Content})
	}
	msgs = append(msgs, llm.ChatMessage{Role: "user", Content: userContent})

	events := newEventWriter(w)
	var full strings.Builder
	var assembler llm.ToolCallAssembler

	err := s.completer.StreamChat(ctx, msgs, func(chunk llm.Chunk) error {
		switch chunk := chunk.(type) {
		case llm.TextDelta:
			full.WriteString(chunk.Text)
			return events.Content(chunk.Text)
		case llm.ToolCallFragment:
			// Tool fragments are never forwarded as text.
			assembler.Observe(chunk)
		case llm.StreamEnd:
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			// Client went away. Stop reading upstream and leave any
			// partially-accumulated content unpersisted.
			s.logger.Info("chat stream canceled by client", zap.Error(ctx.Err()))
			return
		}
		s.logger.Error("upstream completion failed", zap.Error(err))
		if !events.Started() {
			writeJSONError(w, http.StatusInternalServerError, "Failed to generate response")
			return
		}
		if werr := events.Error("Failed to generate response"); werr != nil {
			s.logger.Warn("failed to write stream error event", zap.Error(werr))
		}
		return
	}

	if call := s.finalizeToolCall(&assembler); call != nil {
		s.runToolCall(ctx, call, events, &full)
	}

	outcome := s.persistAssistantTurn(ctx, conv, persisted, full.String())
	s.logger.Info("chat stream complete",
		zap.String("persist_outcome", string(outcome)),
		zap.Int("response_bytes", full.Len()))

	if err := events.Done(); err != nil {
		s.logger.Warn("failed to write stream terminator", zap.Error(err))
	}
}

// resolveConversation loads the owned conversation and its recent history.
// Any failure here degrades the request to ephemeral mode; it never rejects.
func (s *Service) resolveConversation(ctx context.Context, req Request) (*models.Conversation, []models.Message) {
	if req.UserID == "" || req.ConversationID == "" {
		return nil, nil
	}

	conv, err := s.store.FindConversation(ctx, req.ConversationID, req.UserID)
	if err != nil {
		s.logger.Warn("conversation lookup failed, serving ephemeral",
			zap.String("conversation_id", req.ConversationID),
			zap.Error(err))
		return nil, nil
	}

	history, err := s.store.RecentMessages(ctx, conv.ID, s.opts.HistoryWindow)
	if err != nil {
		s.logger.Warn("history load failed, continuing without context",
			zap.String("conversation_id", conv.ID),
			zap.Error(err))
		history = nil
	}

	// RecentMessages returns newest first; the upstream model needs
	// chronological order.
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}

	return conv, history
}

// maybeDeriveTitle sets the conversation title from the first user message
// when the conversation is still untitled. Best effort.
func (s *Service) maybeDeriveTitle(ctx context.Context, conv *models.Conversation, message string) {
	if conv.Title != "" && conv.Title != defaultTitle {
		return
	}
	title := strings.TrimSpace(message)
	if title == "" {
		return
	}
	if runes := []rune(title); len(runes) > 60 {
		title = string(runes[:60]) + "…"
	}
	if err := s.store.UpdateConversationTitle(ctx, conv.ID, title); err != nil {
		s.logger.Warn("failed to derive conversation title",
			zap.String("conversation_id", conv.ID),
			zap.Error(err))
	}
}

func (s *Service) finalizeToolCall(assembler *llm.ToolCallAssembler) *llm.ToolCall {
	call, err := assembler.Finalize()
	if err != nil {
		// A malformed tool call must not abort an otherwise-successful text
		// response.
		s.logger.Warn("dropping malformed tool call", zap.Error(err))
		return nil
	}
	return call
}

// runToolCall executes the assembled media-generation call and folds the
// outcome into both the outbound stream and the persisted response. The
// status chunk keeps the client informed during the blocking call but is not
// persisted.
func (s *Service) runToolCall(ctx context.Context, call *llm.ToolCall, events *eventWriter, full *strings.Builder) {
	var kind media.Kind
	switch call.Name {
	case llm.ToolGenerateImage:
		kind = media.KindImage
	case llm.ToolGenerateVideo:
		kind = media.KindVideo
	default:
		s.logger.Warn("upstream requested unknown tool", zap.String("tool", call.Name))
		return
	}

	prompt, ok := call.Prompt()
	if !ok {
		s.logger.Warn("tool call missing prompt argument", zap.String("tool", call.Name))
		return
	}

	if err := events.Content(fmt.Sprintf("\n\n*Generating %s...*\n\n", kind)); err != nil {
		s.logger.Warn("failed to write generation status", zap.Error(err))
	}

	result := media.Result{Err: "media generation not configured"}
	if s.generator != nil {
		result = s.generator.Generate(ctx, kind, prompt)
	}

	markup := renderMedia(kind, result)
	full.WriteString(markup)
	if err := events.Content(markup); err != nil {
		s.logger.Warn("failed to write media markup", zap.Error(err))
	}
}

func renderMedia(kind media.Kind, result media.Result) string {
	if result.Err != "" {
		return fmt.Sprintf("\n\n> **Generation Failed:** %s\n\n", result.Err)
	}
	if kind == media.KindVideo {
		return fmt.Sprintf("\n\n<video controls src=%q></video>\n\n[Download video](%s)\n\n", result.URL, result.URL)
	}
	return fmt.Sprintf("\n\n![Generated Image](%s)\n\n", result.URL)
}

// persistAssistantTurn writes the assistant message and bumps the
// conversation timestamp. Failures are logged and swallowed: the client has
// already received and rendered the content.
func (s *Service) persistAssistantTurn(ctx context.Context, conv *models.Conversation, persisted bool, content string) PersistOutcome {
	if !persisted || conv == nil {
		return PersistEphemeral
	}
	if content == "" {
		return PersistEmpty
	}

	msg := &models.Message{ConvID: conv.ID, Role: "assistant", Content: content}
	if err := s.store.SaveMessage(ctx, msg); err != nil {
		s.logger.Error("failed to save assistant message",
			zap.String("conversation_id", conv.ID),
			zap.Error(err))
		return PersistFailed
	}
	if err := s.store.TouchConversation(ctx, conv.ID); err != nil {
		s.logger.Warn("failed to bump conversation timestamp",
			zap.String("conversation_id", conv.ID),
			zap.Error(err))
	}
	return PersistSaved
}

func summarizeAttachments(attachments []Attachment, message string) string {
	if len(attachments) == 0 {
		return message
	}
	parts := make([]string, 0, len(attachments)+1)
	for _, a := range attachments {
		parts = append(parts, fmt.Sprintf("[File: %s (%s)]", a.Name, a.Type))
	}
	if message != "" {
		parts = append(parts, message)
	}
	return strings.Join(parts, " ")
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
