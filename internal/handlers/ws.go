package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"tableside/internal/domain"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The gateway in front of this service enforces origins.
	CheckOrigin: func(*http.Request) bool { return true },
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
)

// wsControl is the client-to-server frame. Renewal happens in-band so a
// display outlives the token TTL without reconnecting.
type wsControl struct {
	Type  string    `json:"type"`
	Token uuid.UUID `json:"token"`
}

type wsTokenRenewed struct {
	Type      string    `json:"type"`
	Token     uuid.UUID `json:"token"`
	ExpiresAt string    `json:"expires_at"`
}

// serveBoard upgrades a staff display connection. Auth is the board token
// from the query string; scope is one restaurant per connection.
func (h *Handler) serveBoard(w http.ResponseWriter, r *http.Request) {
	tok, err := uuid.Parse(r.URL.Query().Get("token"))
	if err != nil {
		writeProblem(w, domain.E(domain.KindUnauthorized, "missing or malformed board token"))
		return
	}
	if _, err := h.tokens.Validate(tok); err != nil {
		writeProblem(w, err)
		return
	}
	restaurantID, err := strconv.ParseInt(r.URL.Query().Get("restaurant_id"), 10, 64)
	if err != nil || restaurantID <= 0 {
		writeProblem(w, domain.E(domain.KindValidation, "restaurant_id query parameter required"))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.lg.Error("ws_upgrade_failed", err, nil)
		return
	}

	eventsCh, unsubscribe := h.hub.Subscribe(restaurantID)
	h.lg.Info("board_connected", map[string]any{
		"restaurant_id": restaurantID, "clients": h.hub.ClientCount(),
	})

	// All frames leave through the single writer goroutine; the reader only
	// feeds control replies into its channel.
	control := make(chan any, 4)
	go h.boardWriter(conn, eventsCh, control)
	h.boardReader(conn, control, unsubscribe)
}

func (h *Handler) boardWriter(conn *websocket.Conn, eventsCh <-chan domain.Envelope, control <-chan any) {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	defer conn.Close()

	for {
		select {
		case env, ok := <-eventsCh:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(env); err != nil {
				return
			}
		case msg, ok := <-control:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Handler) boardReader(conn *websocket.Conn, control chan<- any, unsubscribe func()) {
	defer unsubscribe()
	defer close(control)
	defer conn.Close()

	conn.SetReadLimit(1024)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var ctl wsControl
		if err := json.Unmarshal(raw, &ctl); err != nil || ctl.Type != "token.renew" {
			continue
		}
		fresh, exp, err := h.tokens.Renew(ctl.Token)
		if err != nil {
			// Expired mid-connection: the display must reconnect with a new token.
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "token expired"), time.Now().Add(writeWait))
			return
		}
		select {
		case control <- wsTokenRenewed{Type: "token.renewed", Token: fresh, ExpiresAt: exp.UTC().Format(time.RFC3339)}:
		default:
		}
	}
}
