package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/aibuddy/buddy-server/internal/auth"
	"github.com/aibuddy/buddy-server/internal/config"
	"github.com/aibuddy/buddy-server/internal/db"
	"github.com/aibuddy/buddy-server/internal/models"
	"github.com/aibuddy/buddy-server/internal/relay"
	"go.uber.org/zap"
)

const (
	maxUploadMemory       = 10 << 20
	conversationListLimit = 50
)

var validRoles = map[string]bool{
	"user":      true,
	"assistant": true,
	"system":    true,
}

type Handler struct {
	db       *db.Database
	relay    *relay.Service
	resolver auth.Resolver
	cfg      *config.Config
	logger   *zap.Logger
}

func NewHandler(database *db.Database, relayService *relay.Service, resolver auth.Resolver, cfg *config.Config, logger *zap.Logger) *Handler {
	return &Handler{
		db:       database,
		relay:    relayService,
		resolver: resolver,
		cfg:      cfg,
		logger:   logger,
	}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", h.HandleChat)
	mux.HandleFunc("GET /api/conversations", h.ListConversations)
	mux.HandleFunc("POST /api/conversations", h.CreateConversation)
	mux.HandleFunc("GET /api/conversations/{id}/messages", h.ListMessages)
	mux.HandleFunc("POST /api/conversations/{id}/messages", h.AppendMessage)
	mux.HandleFunc("PATCH /api/conversations/{id}", h.RenameConversation)
	mux.HandleFunc("DELETE /api/conversations/{id}", h.DeleteConversation)
	mux.HandleFunc("GET /api/config", h.GetConfig)
	mux.HandleFunc("GET /health", h.Health)
	return mux
}

// userID resolves the caller to a store-level user record. An empty return
// means guest: either no identity was asserted or the store was unavailable.
func (h *Handler) userID(r *http.Request) string {
	id, ok := h.resolver.Resolve(r)
	if !ok {
		return ""
	}
	user, err := h.db.GetOrCreateUser(r.Context(), id.Email, id.Name)
	if err != nil {
		h.logger.Error("failed to resolve user record",
			zap.String("email", id.Email),
			zap.Error(err))
		return ""
	}
	return user.ID
}

// HandleChat accepts the multipart chat form and hands off to the streaming
// relay. Guests are served too; the relay just runs in ephemeral mode.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	req := relay.Request{
		UserID:         h.userID(r),
		ConversationID: r.FormValue("conversationId"),
		Message:        r.FormValue("message"),
	}
	if r.MultipartForm != nil {
		for _, file := range r.MultipartForm.File["files"] {
			req.Attachments = append(req.Attachments, relay.Attachment{
				Name: file.Filename,
				Type: file.Header.Get("Content-Type"),
			})
		}
	}

	h.relay.Serve(r.Context(), w, req)
}

func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	uid := h.userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	conversations, err := h.db.ListConversations(r.Context(), uid, conversationListLimit)
	if err != nil {
		h.logger.Error("failed to list conversations", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, conversations)
}

type createConversationRequest struct {
	Title string `json:"title"`
}

func (h *Handler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	uid := h.userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req createConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	conversation, err := h.db.CreateConversation(r.Context(), uid, req.Title)
	if err != nil {
		h.logger.Error("failed to create conversation", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, conversation)
}

func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	conv := h.ownedConversation(w, r)
	if conv == nil {
		return
	}

	messages, err := h.db.ListMessages(r.Context(), conv.ID)
	if err != nil {
		h.logger.Error("failed to list messages", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, messages)
}

type appendMessageRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AppendMessage lets the client persist a turn directly, mirroring the
// relay's append-only write path. The conversation timestamp is bumped on
// every append.
func (h *Handler) AppendMessage(w http.ResponseWriter, r *http.Request) {
	conv := h.ownedConversation(w, r)
	if conv == nil {
		return
	}

	var req appendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "Content is required")
		return
	}
	if !validRoles[req.Role] {
		writeError(w, http.StatusBadRequest, "Role must be one of user, assistant, system")
		return
	}

	msg := &models.Message{ConvID: conv.ID, Role: req.Role, Content: req.Content}
	if err := h.db.SaveMessage(r.Context(), msg); err != nil {
		h.logger.Error("failed to save message", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if err := h.db.TouchConversation(r.Context(), conv.ID); err != nil {
		h.logger.Warn("failed to bump conversation timestamp", zap.Error(err))
	}

	writeJSON(w, http.StatusOK, msg)
}

type renameConversationRequest struct {
	Title string `json:"title"`
}

func (h *Handler) RenameConversation(w http.ResponseWriter, r *http.Request) {
	conv := h.ownedConversation(w, r)
	if conv == nil {
		return
	}

	var req renameConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "Title is required")
		return
	}

	if err := h.db.UpdateConversationTitle(r.Context(), conv.ID, req.Title); err != nil {
		h.logger.Error("failed to rename conversation", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *Handler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	conv := h.ownedConversation(w, r)
	if conv == nil {
		return
	}

	if err := h.db.DeleteConversation(r.Context(), conv.ID); err != nil {
		h.logger.Error("failed to delete conversation", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	w.WriteHeader(http.StatusOK)
}

type configResponse struct {
	Model             string `json:"model"`
	HistoryWindow     int    `json:"history_window"`
	GuestMessageLimit int    `json:"guest_message_limit"`
}

// GetConfig publishes the product policy values the client collaborator
// enforces, notably the guest message limit.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, configResponse{
		Model:             h.cfg.Upstream.Model,
		HistoryWindow:     h.cfg.Chat.HistoryWindow,
		GuestMessageLimit: h.cfg.Chat.GuestMessageLimit,
	})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ownedConversation resolves the {id} path parameter to a conversation owned
// by the caller, writing the error response itself when that fails.
func (h *Handler) ownedConversation(w http.ResponseWriter, r *http.Request) *models.Conversation {
	uid := h.userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return nil
	}

	conv, err := h.db.FindConversation(r.Context(), r.PathValue("id"), uid)
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Conversation not found")
		return nil
	}
	if err != nil {
		h.logger.Error("failed to find conversation", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return nil
	}
	return conv
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
