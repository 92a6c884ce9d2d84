package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tasker-backend/pkg/middleware"
	"tasker-backend/pkg/models"
	"tasker-backend/pkg/utils"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

type notesMessage struct {
	Type  string        `json:"type"`
	Notes *models.Notes `json:"notes,omitempty"`
}

func (h *SpacesHandler) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || middleware.OriginAllowed(origin, h.allowedOrigins)
		},
	}
}

// GET /api/spaces/{spaceID}/notes/ws
//
// Streams the space's notes: the current value first, then every change.
func (h *SpacesHandler) NotesSocket(w http.ResponseWriter, r *http.Request) {
	sess, ok := requireSession(w, r)
	if !ok {
		return
	}
	id := spaceID(r)

	// check access before upgrading so failures get a normal error response
	if _, err := h.readNotes(r.Context(), id, sess.UID); err != nil {
		utils.WriteAppError(w, err)
		return
	}

	conn, err := h.upgrader().Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "space_id", id, "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// latest value wins; a slow client skips intermediate edits
	updates := make(chan models.Notes, 1)
	push := func(n models.Notes) {
		for {
			select {
			case updates <- n:
				return
			default:
				select {
				case <-updates:
				default:
				}
			}
		}
	}

	revoked := make(chan struct{})
	var revokeOnce sync.Once
	onRevoke := func() { revokeOnce.Do(func() { close(revoked) }) }

	unsubscribe, err := h.board.SubscribeNotes(ctx, id, sess.UID, push, onRevoke)
	if err != nil {
		h.logger.Warn("notes subscription failed", "space_id", id, "error", err)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscription failed"),
			time.Now().Add(writeWait))
		return
	}
	defer unsubscribe()
	h.logger.Info("notes subscriber connected", "space_id", id, "uid", sess.UID)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.logger.Debug("notes subscriber read error", "space_id", id, "error", err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-revoked:
			h.logger.Info("notes subscriber lost access", "space_id", id, "uid", sess.UID)
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "access revoked"),
				time.Now().Add(writeWait))
			return
		case <-ctx.Done():
			h.logger.Info("notes subscriber disconnected", "space_id", id, "uid", sess.UID)
			return
		case notes := <-updates:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(notesMessage{Type: "notes", Notes: &notes}); err != nil {
				h.logger.Debug("notes write failed", "space_id", id, "error", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
