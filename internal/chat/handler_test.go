package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	myMiddleware "go-dm/internal/middleware"
	"go-dm/internal/user"
)

type gateway struct {
	srv    *httptest.Server
	svc    *Service
	tokens *user.Service
}

func newGateway(t *testing.T) *gateway {
	t.Helper()
	svc := newTestService(t, nil)
	tokens := user.NewService("test-secret")
	hub := NewHub(quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(myMiddleware.NewAuthMiddleware(tokens).Handle)
		NewHandler(hub, svc, quietLogger()).Routes(r)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return &gateway{srv: srv, svc: svc, tokens: tokens}
}

func (g *gateway) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := g.tokens.IssueToken(userID, userID, time.Hour)
	require.NoError(t, err)
	return tok
}

func (g *gateway) do(t *testing.T, userID, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, g.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+g.token(t, userID))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if resp.StatusCode != http.StatusNoContent {
		_ = json.NewDecoder(resp.Body).Decode(&out)
	}
	return resp, out
}

func TestHandler_RESTFlow(t *testing.T) {
	g := newGateway(t)

	resp, body := g.do(t, "alice", http.MethodPost, "/api/conversations", map[string]string{"peer_id": "bob"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, true, body["created"])
	id := body["conversation_id"].(string)

	resp, body = g.do(t, "alice", http.MethodPost, "/api/conversations", map[string]string{"peer_id": "bob"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, id, body["conversation_id"])

	resp, body = g.do(t, "alice", http.MethodPost, "/api/conversations/"+id+"/messages", map[string]string{"text": "hi"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	msgID := body["id"].(string)
	assert.True(t, entryOf(t, g.svc, "bob", id).Unread())

	resp, body = g.do(t, "alice", http.MethodPost, "/api/conversations/"+id+"/messages", map[string]string{"text": "  "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "FAILED_PRECONDITION", body["code"])

	resp, _ = g.do(t, "bob", http.MethodDelete, "/api/conversations/"+id+"/messages/"+msgID, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = g.do(t, "bob", http.MethodPost, "/api/conversations/"+id+"/seen", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.False(t, entryOf(t, g.svc, "bob", id).Unread())

	resp, _ = g.do(t, "bob", http.MethodPost, "/api/conversations/"+id+"/report", map[string]string{"reason": "spam"})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.False(t, messagesOf(t, g.svc, id)[0].VisibleTo("bob"))

	resp, _ = g.do(t, "bob", http.MethodPost, "/api/conversations/"+id+"/hide", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.True(t, entryOf(t, g.svc, "bob", id).HiddenBy("bob"))

	resp, _ = g.do(t, "alice", http.MethodDelete, "/api/conversations/"+id+"/messages/"+msgID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, messagesOf(t, g.svc, id))

	resp, _ = g.do(t, "alice", http.MethodDelete, "/api/conversations/"+id+"/messages/"+msgID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandler_RequiresToken(t *testing.T) {
	g := newGateway(t)
	resp, err := http.Post(g.srv.URL+"/api/conversations", "application/json", strings.NewReader(`{"peer_id":"bob"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func readFrame(t *testing.T, conn *websocket.Conn, ok func(outboundFrame, json.RawMessage) bool) json.RawMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitTimeout)))
	for {
		var raw struct {
			outboundFrame
			Data json.RawMessage `json:"data"`
		}
		require.NoError(t, conn.ReadJSON(&raw))
		if ok(raw.outboundFrame, raw.Data) {
			return raw.Data
		}
	}
}

func TestHandler_WebsocketSession(t *testing.T) {
	g := newGateway(t)
	id := mustCreate(t, g.svc, "alice", "bob")

	wsURL := "ws" + strings.TrimPrefix(g.srv.URL, "http") + "/ws?token=" + g.token(t, "alice")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	readFrame(t, conn, func(f outboundFrame, data json.RawMessage) bool {
		var chats []ConversationView
		return f.Type == "chats" && json.Unmarshal(data, &chats) == nil && len(chats) == 1
	})

	require.NoError(t, conn.WriteJSON(inboundFrame{Type: "select", ConversationID: id, Ref: "r1"}))
	readFrame(t, conn, func(f outboundFrame, _ json.RawMessage) bool { return f.Type == "ack" && f.Ref == "r1" })

	// A REST send from the same user goes through the live session.
	resp, _ := g.do(t, "alice", http.MethodPost, "/api/conversations/"+id+"/messages", map[string]string{"text": "over rest"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	data := readFrame(t, conn, func(f outboundFrame, data json.RawMessage) bool {
		var msgs []MessageView
		return f.Type == "messages" && json.Unmarshal(data, &msgs) == nil &&
			len(msgs) == 1 && msgs[0].Status == StatusSent
	})
	var msgs []MessageView
	require.NoError(t, json.Unmarshal(data, &msgs))
	assert.Equal(t, "over rest", msgs[0].Text)
	assert.True(t, msgs[0].Mine)

	require.NoError(t, conn.WriteJSON(inboundFrame{Type: "delete", ConversationID: id, MessageID: "nope", Ref: "r2"}))
	readFrame(t, conn, func(f outboundFrame, _ json.RawMessage) bool {
		return f.Type == "error" && f.Ref == "r2" && f.Code == "NOT_FOUND"
	})

	require.NoError(t, conn.WriteJSON(inboundFrame{Type: "bogus", Ref: "r3"}))
	readFrame(t, conn, func(f outboundFrame, _ json.RawMessage) bool {
		return f.Type == "error" && f.Ref == "r3" && f.Code == "INVALID_ARGUMENT"
	})
}
