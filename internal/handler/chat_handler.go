package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xxxsen/ragchat/internal/chat"
	"github.com/xxxsen/ragchat/internal/middleware"
	"github.com/xxxsen/ragchat/internal/model"
	appErr "github.com/xxxsen/ragchat/internal/pkg/errors"
)

const (
	wsWriteWait    = 10 * time.Second
	wsMaxFrameSize = 64 << 10
	// wsMaxPending bounds the frames held while a turn is running.
	wsMaxPending = 4
)

var errTooManyPending = errors.New("too many pending messages")

type SessionLookup interface {
	Get(ctx context.Context, userID, sessionID string) (*model.ChatSession, error)
}

type ChatHandler struct {
	auth     middleware.Authenticator
	sessions SessionLookup
	engine   *chat.Engine
	registry *chat.Registry
	upgrader websocket.Upgrader
}

func NewChatHandler(auth middleware.Authenticator, sessions SessionLookup, engine *chat.Engine, registry *chat.Registry, allowedOrigins []string) *ChatHandler {
	return &ChatHandler{
		auth:     auth,
		sessions: sessions,
		engine:   engine,
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

type inboundFrame struct {
	Content string `json:"content"`
}

// Serve upgrades first and authenticates second so a bad credential is
// reported as a policy-violation close frame the client can read.
func (h *ChatHandler) Serve(c *gin.Context) {
	ctx := c.Request.Context()
	logger := logutil.GetLogger(ctx)
	token := middleware.TokenFromRequest(c)
	if token == "" {
		token = c.Query("token")
	}
	userID, authErr := h.auth.Authenticate(token)

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	conn := newWSConn(raw)
	if authErr != nil {
		_ = conn.Close(chat.ClosePolicyViolation, "unauthorized")
		return
	}
	sessionID := c.Param("session_id")
	logger = logger.With(zap.String("user_id", userID), zap.String("session_id", sessionID))
	if _, err := h.sessions.Get(ctx, userID, sessionID); err != nil {
		code, reason := chat.CloseInternalError, "session lookup failed"
		if errors.Is(err, appErr.ErrNotFound) {
			code, reason = chat.ClosePolicyViolation, "session not found"
		}
		logger.Warn("websocket session rejected", zap.Error(err))
		_ = conn.Close(code, reason)
		return
	}

	handle := h.registry.Connect(conn, userID, sessionID)
	session := h.engine.NewSession(userID, sessionID, func(ctx context.Context, ev model.StreamEvent) error {
		return h.registry.Send(ctx, handle, ev)
	})
	logger.Info("websocket connected", zap.Int("session_connections", h.registry.CountForSession(sessionID)))
	err = h.run(ctx, conn, session)
	session.Close()
	code, reason := chat.CloseNormal, ""
	var transportErr *appErr.TransportError
	switch {
	case errors.As(err, &transportErr):
		code = chat.CloseInternalError
	case errors.Is(err, errTooManyPending):
		code, reason = chat.ClosePolicyViolation, errTooManyPending.Error()
	}
	h.registry.Disconnect(handle, code, reason)
	logger.Info("websocket disconnected", zap.Error(err))
}

// run pairs a reader with the turn loop. The reader never stops reading, so a
// close or read error cancels the running turn; frames that arrive meanwhile
// wait in a bounded queue and are handled one at a time in arrival order.
func (h *ChatHandler) run(ctx context.Context, conn *wsConn, session *chat.Session) error {
	g, gctx := errgroup.WithContext(ctx)
	frames := make(chan string, wsMaxPending)
	g.Go(func() error {
		defer close(frames)
		for {
			text, err := conn.ReadText()
			if err != nil {
				return err
			}
			select {
			case frames <- text:
			default:
				return errTooManyPending
			}
		}
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case text, ok := <-frames:
				if !ok {
					return nil
				}
				if err := session.HandleTurn(gctx, text); err != nil {
					return err
				}
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		conn.stopReading()
		return nil
	})
	err := g.Wait()
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// wsConn adapts a gorilla connection to chat.Conn. Writes are serialized by
// the registry; Close may race with them, which gorilla allows for control
// frames.
type wsConn struct {
	conn      *websocket.Conn
	closeOnce sync.Once
}

func newWSConn(conn *websocket.Conn) *wsConn {
	conn.SetReadLimit(wsMaxFrameSize)
	return &wsConn{conn: conn}
}

func (w *wsConn) Send(ctx context.Context, event model.StreamEvent) error {
	deadline := time.Now().Add(wsWriteWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := w.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return w.conn.WriteJSON(event)
}

func (w *wsConn) Close(code int, reason string) error {
	var err error
	w.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(code, reason)
		_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
		err = w.conn.Close()
	})
	return err
}

// ReadText returns the user text of the next frame. Frames are either
// {"content": "..."} or the bare text; anything that fails to decode as the
// former is taken as the latter.
func (w *wsConn) ReadText() (string, error) {
	for {
		_, data, err := w.conn.ReadMessage()
		if err != nil {
			return "", err
		}
		text := strings.TrimSpace(string(data))
		if text == "" {
			continue
		}
		var frame inboundFrame
		if strings.HasPrefix(text, "{") && json.Unmarshal(data, &frame) == nil {
			return frame.Content, nil
		}
		return text, nil
	}
}

func (w *wsConn) stopReading() {
	_ = w.conn.SetReadDeadline(time.Now())
}

func originChecker(allowlist []string) func(r *http.Request) bool {
	allowed := make(map[string]struct{}, len(allowlist))
	for _, origin := range allowlist {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			allowed[trimmed] = struct{}{}
		}
	}
	return func(r *http.Request) bool {
		if len(allowed) == 0 {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[origin]
		return ok
	}
}
