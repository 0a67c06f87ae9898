package chat

import (
	"context"

	"github.com/charmbracelet/log"
)

// Hub tracks the live websocket clients of this instance so REST mutations
// can run through the caller's session and show up optimistically.
type Hub struct {
	clients    map[string]map[*Client]bool
	Register   chan *Client
	Unregister chan *Client
	lookup     chan sessionLookup
	done       chan struct{}
	logger     *log.Logger
}

type sessionLookup struct {
	userID string
	reply  chan *Session
}

func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		lookup:     make(chan sessionLookup),
		done:       make(chan struct{}),
		logger:     logger.WithPrefix("hub"),
	}
}

// Run owns the client map until ctx is done. Remaining connections are
// closed on the way out.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for _, set := range h.clients {
				for client := range set {
					client.conn.Close()
				}
			}
			h.clients = nil
			return

		case client := <-h.Register:
			set := h.clients[client.userID]
			if set == nil {
				set = make(map[*Client]bool)
				h.clients[client.userID] = set
			}
			set[client] = true
			h.logger.Debug("client registered", "user", client.userID, "connections", len(set))

		case client := <-h.Unregister:
			set := h.clients[client.userID]
			if _, ok := set[client]; ok {
				delete(set, client)
				close(client.send)
				if len(set) == 0 {
					delete(h.clients, client.userID)
				}
			}

		case req := <-h.lookup:
			var found *Session
			for client := range h.clients[req.userID] {
				found = client.session
				break
			}
			req.reply <- found
		}
	}
}

// register reports false once the hub has stopped.
func (h *Hub) register(c *Client) bool {
	select {
	case h.Register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregister(c *Client) {
	select {
	case h.Unregister <- c:
	case <-h.done:
	}
}

// SessionFor returns one live session of userID, or nil.
func (h *Hub) SessionFor(userID string) *Session {
	req := sessionLookup{userID: userID, reply: make(chan *Session, 1)}
	select {
	case h.lookup <- req:
		return <-req.reply
	case <-h.done:
		return nil
	}
}
