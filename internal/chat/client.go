package chat

import (
	"context"
	"encoding/json"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	appErrors "go-dm/pkg/errors"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 256
)

// Frames pushed to the browser.
type outboundFrame struct {
	Type           string `json:"type"`
	Ref            string `json:"ref,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	Data           any    `json:"data,omitempty"`
	Code           string `json:"code,omitempty"`
	Message        string `json:"message,omitempty"`
}

// Frames the browser sends us.
type inboundFrame struct {
	Type           string `json:"type"` // select | send | delete | hide | report | seen | create
	ConversationID string `json:"conversation_id"`
	PeerID         string `json:"peer_id"`
	MessageID      string `json:"message_id"`
	Text           string `json:"text"`
	Image          string `json:"image"`
	Reason         string `json:"reason"`
	Ref            string `json:"ref"`
}

// Client is a middleman between the websocket connection and one Session.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	session *Session
	send    chan []byte
	userID  string
	logger  *log.Logger
}

func newClient(hub *Hub, conn *websocket.Conn, session *Session, logger *log.Logger) *Client {
	return &Client{
		hub:     hub,
		conn:    conn,
		session: session,
		send:    make(chan []byte, sendBuffer),
		userID:  session.UserID(),
		logger:  logger.With("user", session.UserID()),
	}
}

// push never blocks; a client that cannot keep up loses frames, and the
// next view update supersedes them anyway.
func (c *Client) push(frame outboundFrame) {
	b, err := json.Marshal(frame)
	if err != nil {
		c.logger.Error("frame not encodable", "type", frame.Type, "err", err)
		return
	}
	select {
	case c.send <- b:
	default:
		c.logger.Warn("send buffer full, dropping frame", "type", frame.Type)
	}
}

// forward copies session view updates into the send buffer until the
// session is closed.
func (c *Client) forward(done chan<- struct{}) {
	defer close(done)
	chats, messages := c.session.ChatUpdates(), c.session.MessageUpdates()
	for chats != nil || messages != nil {
		select {
		case v, ok := <-chats:
			if !ok {
				chats = nil
				continue
			}
			c.push(outboundFrame{Type: "chats", Data: v})
		case v, ok := <-messages:
			if !ok {
				messages = nil
				continue
			}
			c.push(outboundFrame{Type: "messages", Data: v})
		}
	}
}

// readPump turns inbound frames into session actions. When the connection
// dies it tears the session down before unregistering, so nothing writes to
// send after the hub closes it.
func (c *Client) readPump(forwarded <-chan struct{}) {
	defer func() {
		c.session.Close()
		<-forwarded
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket closed unexpectedly", "err", err)
			}
			return
		}
		var in inboundFrame
		if err := json.Unmarshal(raw, &in); err != nil {
			c.pushError(in.Ref, appErrors.InvalidArg("malformed frame"))
			continue
		}
		c.handle(in)
	}
}

func (c *Client) handle(in inboundFrame) {
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()

	var (
		data any
		err  error
	)
	switch in.Type {
	case "select":
		err = c.session.Select(ctx, in.ConversationID)
	case "create":
		data, err = c.session.CreateConversation(ctx, in.PeerID)
	case "send":
		data, err = c.session.Send(ctx, SendRequest{
			ConversationID: in.ConversationID,
			PeerID:         in.PeerID,
			Text:           in.Text,
			ImageRef:       in.Image,
		})
	case "delete":
		err = c.session.DeleteMessage(ctx, in.ConversationID, in.MessageID)
	case "hide":
		err = c.session.HideChat(ctx, in.ConversationID)
	case "report":
		err = c.session.Report(ctx, in.ConversationID, in.Reason)
	case "seen":
		err = c.session.MarkSeen(ctx, in.ConversationID)
	default:
		err = appErrors.InvalidArg("unknown frame type " + in.Type)
	}
	if err != nil {
		c.pushError(in.Ref, err)
		return
	}
	c.push(outboundFrame{Type: "ack", Ref: in.Ref, ConversationID: in.ConversationID, Data: data})
}

func (c *Client) pushError(ref string, err error) {
	c.push(outboundFrame{Type: "error", Ref: ref, Code: string(appErrors.CodeOf(err)), Message: err.Error()})
}

// writePump pumps frames from the send buffer to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
