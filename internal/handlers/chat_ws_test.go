package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/AnshRaj112/persona-guard/internal/models"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialChat(t *testing.T, h *ChatHandler, query string) (*websocket.Conn, *http.Response, error) {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(h.ChatWebSocket))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat?" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if conn != nil {
		t.Cleanup(func() { _ = conn.Close() })
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	}
	return conn, resp, err
}

func TestChatWebSocketRejectsDeniedUser(t *testing.T) {
	t.Parallel()

	p := &fakePipeline{permission: models.PermissionResult{Reason: "banned", Message: "Your account has been permanently banned."}}
	_, resp, err := dialChat(t, newTestChatHandler(p), "token=tok")

	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestChatWebSocketRejectsUnknownSession(t *testing.T) {
	t.Parallel()

	p := &fakePipeline{permission: models.PermissionResult{Allowed: true}}
	_, resp, err := dialChat(t, newTestChatHandler(p), "token=nope")

	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestChatWebSocketConversation(t *testing.T) {
	t.Parallel()

	p := &fakePipeline{
		permission: models.PermissionResult{Allowed: true},
		process: func(msg models.ChatMessage) (models.ChatOutcome, error) {
			if strings.Contains(msg.Text, "threat") {
				return models.ChatOutcome{
					Permission: models.PermissionResult{Reason: "chat_suspended", Message: "Your chat access is suspended. Try again in 1 day."},
					Violation:  &models.ViolationRecord{ViolationType: models.ViolationTypeModerationFlag},
					Sanction:   &models.SanctionResult{Action: models.ActionChatSuspension, Message: "Your chat access has been suspended for 1 day after 6 violations."},
				}, nil
			}
			return models.ChatOutcome{Delivered: true, Permission: models.PermissionResult{Allowed: true}}, nil
		},
	}
	conn, _, err := dialChat(t, newTestChatHandler(p), "token=tok&persona_id=luna")
	require.NoError(t, err)

	var event ChatServerEvent

	require.NoError(t, conn.WriteJSON(ChatClientMessage{Type: "ping"}))
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, "pong", event.Type)

	require.NoError(t, conn.WriteJSON(ChatClientMessage{Type: "shout"}))
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, "error", event.Type)

	require.NoError(t, conn.WriteJSON(ChatClientMessage{Type: "message", Text: "hello"}))
	event = ChatServerEvent{}
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, "outcome", event.Type)
	require.NotNil(t, event.Outcome)
	assert.True(t, event.Outcome.Delivered)

	require.NoError(t, conn.WriteJSON(ChatClientMessage{Type: "message", Text: "a threat"}))
	event = ChatServerEvent{}
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, "denied", event.Type)
	assert.Equal(t, "Your chat access has been suspended for 1 day after 6 violations.", event.Message)

	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
	assert.Equal(t, "chat_suspended", closeErr.Text)

	msgs := p.received()
	require.Len(t, msgs, 2)
	assert.Equal(t, "luna", msgs[0].PersonaID, "persona falls back to the query parameter")
	assert.Equal(t, testUserID.String(), msgs[0].UserID)
}
