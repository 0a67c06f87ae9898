package chat

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	myMiddleware "go-dm/internal/middleware"
	appErrors "go-dm/pkg/errors"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // TODO: restrict to the configured frontend origin once it is part of config
	},
}

type Handler struct {
	hub    *Hub
	svc    *Service
	logger *log.Logger
}

func NewHandler(hub *Hub, svc *Service, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{hub: hub, svc: svc, logger: logger.WithPrefix("http")}
}

// Routes mounts the authenticated chat endpoints. The caller installs the
// auth middleware.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/ws", h.ServeWs)
	r.Route("/api/conversations", func(r chi.Router) {
		r.Post("/", h.StartConversation)
		r.Route("/{conversationID}", func(r chi.Router) {
			r.Post("/messages", h.SendMessage)
			r.Delete("/messages/{messageID}", h.DeleteMessage)
			r.Post("/hide", h.HideConversation)
			r.Post("/report", h.ReportConversation)
			r.Post("/seen", h.MarkSeen)
		})
	})
}

func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := myMiddleware.UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	session, err := h.svc.Open(r.Context(), userID)
	if err != nil {
		h.logger.Error("session not opened", "user", userID, "err", err)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "session unavailable"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	client := newClient(h.hub, conn, session, h.logger)
	if !h.hub.register(client) {
		session.Close()
		conn.Close()
		return
	}

	forwarded := make(chan struct{})
	go client.forward(forwarded)
	go client.writePump()
	go client.readPump(forwarded)
}

// mutator prefers the caller's live session so the change shows up in the
// open view immediately.
func (h *Handler) mutator(r *http.Request) (Mutator, bool) {
	userID, _, ok := myMiddleware.UserFromContext(r.Context())
	if !ok {
		return nil, false
	}
	if s := h.hub.SessionFor(userID); s != nil {
		return s, true
	}
	return h.svc.For(userID), true
}

type startConversationRequest struct {
	PeerID string `json:"peer_id"`
}

func (h *Handler) StartConversation(w http.ResponseWriter, r *http.Request) {
	m, ok := h.mutator(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	var req startConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, appErrors.InvalidArg("invalid request body"))
		return
	}
	res, err := m.CreateConversation(r.Context(), req.PeerID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

type sendMessageRequest struct {
	PeerID string `json:"peer_id"`
	Text   string `json:"text"`
	Image  string `json:"image"`
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	m, ok := h.mutator(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, appErrors.InvalidArg("invalid request body"))
		return
	}
	msg, err := m.Send(r.Context(), SendRequest{
		ConversationID: chi.URLParam(r, "conversationID"),
		PeerID:         req.PeerID,
		Text:           req.Text,
		ImageRef:       req.Image,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	h.noContent(w, r, func(m Mutator) error {
		return m.DeleteMessage(r.Context(), chi.URLParam(r, "conversationID"), chi.URLParam(r, "messageID"))
	})
}

func (h *Handler) HideConversation(w http.ResponseWriter, r *http.Request) {
	h.noContent(w, r, func(m Mutator) error {
		return m.HideChat(r.Context(), chi.URLParam(r, "conversationID"))
	})
}

type reportRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) ReportConversation(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, appErrors.InvalidArg("invalid request body"))
			return
		}
	}
	h.noContent(w, r, func(m Mutator) error {
		return m.Report(r.Context(), chi.URLParam(r, "conversationID"), req.Reason)
	})
}

func (h *Handler) MarkSeen(w http.ResponseWriter, r *http.Request) {
	h.noContent(w, r, func(m Mutator) error {
		return m.MarkSeen(r.Context(), chi.URLParam(r, "conversationID"))
	})
}

func (h *Handler) noContent(w http.ResponseWriter, r *http.Request, fn func(Mutator) error) {
	m, ok := h.mutator(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if err := fn(m); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := appErrors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "status", status, "err", err)
	}
	writeJSON(w, status, map[string]string{
		"code":    string(appErrors.CodeOf(err)),
		"message": err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
