package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aibuddy/buddy-server/internal/auth"
	"github.com/aibuddy/buddy-server/internal/config"
	"github.com/aibuddy/buddy-server/internal/db"
	"github.com/aibuddy/buddy-server/internal/llm"
	"github.com/aibuddy/buddy-server/internal/models"
	"github.com/aibuddy/buddy-server/internal/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubCompleter streams a fixed response, standing in for the upstream API.
type stubCompleter struct {
	text string
}

func (s stubCompleter) StreamChat(ctx context.Context, msgs []llm.ChatMessage, fn func(llm.Chunk) error) error {
	if err := fn(llm.TextDelta{Text: s.text}); err != nil {
		return err
	}
	return fn(llm.StreamEnd{})
}

func newTestHandler(t *testing.T) (http.Handler, *db.Database) {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	cfg := config.Default()
	logger := zap.NewNop()
	relayService := relay.NewService(database, stubCompleter{text: "Hello there!"}, nil, logger, relay.Options{})
	resolver := auth.HeaderResolver{EmailHeader: cfg.Auth.EmailHeader, NameHeader: cfg.Auth.NameHeader}
	handler := NewHandler(database, relayService, resolver, cfg, logger)
	return handler.Routes(), database
}

func asAlice(r *http.Request) *http.Request {
	r.Header.Set("X-Auth-Email", "alice@example.com")
	r.Header.Set("X-Auth-Name", "Alice")
	return r
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, decorate func(*http.Request) *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	r := httptest.NewRequest(method, path, &buf)
	if decorate != nil {
		r = decorate(r)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestHealth(t *testing.T) {
	h, _ := newTestHandler(t)

	w := doJSON(t, h, "GET", "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestGetConfig(t *testing.T) {
	h, _ := newTestHandler(t)

	w := doJSON(t, h, "GET", "/api/config", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var got struct {
		Model             string `json:"model"`
		HistoryWindow     int    `json:"history_window"`
		GuestMessageLimit int    `json:"guest_message_limit"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "openai/gpt-4o-mini", got.Model)
	assert.Equal(t, 20, got.HistoryWindow)
	assert.Equal(t, 1, got.GuestMessageLimit)
}

func TestConversationsRequireIdentity(t *testing.T) {
	h, _ := newTestHandler(t)

	w := doJSON(t, h, "GET", "/api/conversations", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, h, "POST", "/api/conversations", map[string]string{"title": "x"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestConversationLifecycle(t *testing.T) {
	h, _ := newTestHandler(t)

	w := doJSON(t, h, "POST", "/api/conversations", map[string]string{"title": "trip planning"}, asAlice)
	require.Equal(t, http.StatusOK, w.Code)
	var conv models.Conversation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &conv))
	assert.NotEmpty(t, conv.ID)
	assert.Equal(t, "trip planning", conv.Title)

	w = doJSON(t, h, "GET", "/api/conversations", nil, asAlice)
	require.Equal(t, http.StatusOK, w.Code)
	var listed []models.Conversation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, conv.ID, listed[0].ID)

	w = doJSON(t, h, "PATCH", "/api/conversations/"+conv.ID, map[string]string{"title": "renamed"}, asAlice)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, h, "POST", "/api/conversations/"+conv.ID+"/messages",
		map[string]string{"role": "user", "content": "hello"}, asAlice)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, h, "GET", "/api/conversations/"+conv.ID+"/messages", nil, asAlice)
	require.Equal(t, http.StatusOK, w.Code)
	var messages []models.Message
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &messages))
	require.Len(t, messages, 1)
	assert.Equal(t, "hello", messages[0].Content)

	w = doJSON(t, h, "DELETE", "/api/conversations/"+conv.ID, nil, asAlice)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, h, "GET", "/api/conversations/"+conv.ID+"/messages", nil, asAlice)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestConversationOwnership(t *testing.T) {
	h, _ := newTestHandler(t)

	w := doJSON(t, h, "POST", "/api/conversations", map[string]string{"title": "private"}, asAlice)
	require.Equal(t, http.StatusOK, w.Code)
	var conv models.Conversation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &conv))

	asBob := func(r *http.Request) *http.Request {
		r.Header.Set("X-Auth-Email", "bob@example.com")
		return r
	}
	w = doJSON(t, h, "GET", "/api/conversations/"+conv.ID+"/messages", nil, asBob)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "Conversation not found")
}

func TestAppendMessageValidation(t *testing.T) {
	h, _ := newTestHandler(t)

	w := doJSON(t, h, "POST", "/api/conversations", map[string]string{}, asAlice)
	require.Equal(t, http.StatusOK, w.Code)
	var conv models.Conversation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &conv))

	path := "/api/conversations/" + conv.ID + "/messages"

	w = doJSON(t, h, "POST", path, map[string]string{"role": "user", "content": ""}, asAlice)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, h, "POST", path, map[string]string{"role": "wizard", "content": "hi"}, asAlice)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Role must be one of")
}

func chatForm(t *testing.T, fields map[string]string, fileName string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if fileName != "" {
		part, err := mw.CreateFormFile("files", fileName)
		require.NoError(t, err)
		_, err = part.Write([]byte("file body"))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestHandleChat_GuestStreams(t *testing.T) {
	h, _ := newTestHandler(t)

	body, contentType := chatForm(t, map[string]string{"message": "hi"}, "")
	r := httptest.NewRequest("POST", "/api/chat", body)
	r.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), `"content":"Hello there!"`)
	assert.True(t, strings.HasSuffix(strings.TrimRight(w.Body.String(), "\n"), "data: [DONE]"))
}

func TestHandleChat_PersistsIntoConversation(t *testing.T) {
	h, database := newTestHandler(t)

	w := doJSON(t, h, "POST", "/api/conversations", map[string]string{}, asAlice)
	require.Equal(t, http.StatusOK, w.Code)
	var conv models.Conversation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &conv))

	body, contentType := chatForm(t, map[string]string{
		"message":        "hi",
		"conversationId": conv.ID,
	}, "notes.txt")
	r := asAlice(httptest.NewRequest("POST", "/api/chat", body))
	r.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	require.Equal(t, http.StatusOK, rec.Code)

	messages, err := database.ListMessages(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "user", messages[0].Role)
	assert.Equal(t, fmt.Sprintf("[File: %s (%s)] hi", "notes.txt", "application/octet-stream"), messages[0].Content)
	assert.Equal(t, "assistant", messages[1].Role)
	assert.Equal(t, "Hello there!", messages[1].Content)
}

func TestHandleChat_RejectsEmptyForm(t *testing.T) {
	h, _ := newTestHandler(t)

	body, contentType := chatForm(t, map[string]string{"message": "   "}, "")
	r := httptest.NewRequest("POST", "/api/chat", body)
	r.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Message or files required")
}
