package socket

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"docsync/internal/permission"
	"docsync/middleware"
	"docsync/pkg/logger"
	"docsync/pkg/metrics"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 30 * time.Second
	sendBufSize  = 256
	defaultLimit = 1 << 20
)

type ServeOptions struct {
	MaxMessageBytes int64
}

// NewUpgrader accepts any origin when the list is empty or contains "*".
func NewUpgrader(origins []string) *websocket.Upgrader {
	allowAll := len(origins) == 0
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return allowAll || origin == "" || allowed[origin]
		},
	}
}

// Client is the connection actor of one participant.
type Client struct {
	hub         *Hub
	session     *Session
	conn        *websocket.Conn
	participant *Participant
	readLimit   int64

	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func (c *Client) Deliver(frame []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close()
	})
}

// ServeWs admits a connection to the session of docID. The permission gate runs
// before the upgrade so a refused client never reaches the hub.
func ServeWs(hub *Hub, upgrader *websocket.Upgrader, opts ServeOptions, w http.ResponseWriter, r *http.Request, docID string) {
	access, err := hub.gate.Admit(r.Context(), middleware.TokenFromRequest(r), docID)
	if err != nil {
		metrics.Rejections.Inc()
		logger.Sugar.Infof("Connection rejected for doc %s: %v", docID, err)
		if errors.Is(err, permission.ErrUnauthenticated) {
			http.Error(w, "Unauthorized: Invalid or expired token", http.StatusUnauthorized)
		} else {
			http.Error(w, "Forbidden: no access to this document", http.StatusForbidden)
		}
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Sugar.Error(err)
		return
	}

	limit := opts.MaxMessageBytes
	if limit <= 0 {
		limit = defaultLimit
	}
	client := &Client{
		hub:       hub,
		conn:      conn,
		readLimit: limit,
		send:      make(chan []byte, sendBufSize),
		closed:    make(chan struct{}),
	}
	client.participant = NewParticipant(uuid.NewString(), access.User.ID, access.User.Username, access.Role, client)

	// The write pump must be draining before Join queues the init frame.
	go client.writePump()

	session, _, err := hub.Join(access, client.participant)
	if err != nil {
		logger.Sugar.Errorf("Failed to join doc %s: %v", docID, err)
		client.Close()
		return
	}
	client.session = session

	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Leave(c.session, c.participant.ID)
		c.Close()
	}()

	c.conn.SetReadLimit(c.readLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Sugar.Warn(fmt.Errorf("%w: user %s on doc %s: %v", ErrTransportFault, c.participant.UserID, c.session.docID, err))
			}
			return
		}

		req, err := decodeInbound(raw)
		if err != nil {
			logger.Sugar.Debugf("Dropping frame from user %s: %v", c.participant.UserID, err)
			c.sendError(CodeInvalidMessage, invalidFormatMessage)
			continue
		}

		switch req := req.(type) {
		case updateRequest:
			err = c.session.ApplyUpdate(c.participant.ID, req.Content, req.Cursor)
			if errors.Is(err, ErrUpdateRejected) {
				c.sendError(CodeUpdateRejected, readOnlyMessage)
				continue
			}
		case saveRequest:
			err = c.session.RequestSave(c.participant.ID)
			if errors.Is(err, ErrUpdateRejected) {
				c.sendError(CodeSaveRejected, readOnlyMessage)
				continue
			}
		}
		if err != nil {
			// Session gone or participant no longer registered.
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return // Connection is dead
			}
		case <-c.closed:
			return
		}
	}
}

func (c *Client) sendError(code, message string) {
	frame, err := encode(ErrorType, c.session.docID, nil, ErrorPayload{Code: code, Message: message})
	if err != nil {
		return
	}
	c.Deliver(frame)
}

var _ Peer = (*Client)(nil)
var _ Gate = (*permission.Gate)(nil)
