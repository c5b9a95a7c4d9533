package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"quitcoach/internal/engine"
	"quitcoach/internal/notify"
)

const (
	wsPingInterval = 30 * time.Second
	wsWriteTimeout = 10 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// safeWSConn serialises writes; gorilla allows one concurrent writer.
type safeWSConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *safeWSConn) WriteJSON(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return s.conn.WriteJSON(v)
}

func (s *safeWSConn) WriteText(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *safeWSConn) Ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
}

func (s *safeWSConn) Close() error {
	return s.conn.Close()
}

// GET /notifications?limit=
func ListNotificationsHandler(svc *engine.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, ok := currentActor(c)
		if !ok {
			return
		}
		list, err := svc.Notifications(c.Request.Context(), a, queryInt(c, "limit", 50))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, list)
	}
}

// GET /ws/notifications
//
// Streams the caller's notifications as they are published. Authenticate
// with ?token= since browsers cannot set headers on the upgrade.
func NotificationFeedHandler(feed *notify.RedisPublisher, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, ok := currentActor(c)
		if !ok {
			return
		}
		if feed == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": gin.H{"message": "Live notifications unavailable"}})
			return
		}
		rawConn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		conn := &safeWSConn{conn: rawConn}
		defer conn.Close()

		ctx, cancel := context.WithCancel(c.Request.Context())
		defer cancel()

		sub := feed.Subscribe(ctx, a.UserID)
		defer sub.Close()
		if _, err := sub.Receive(ctx); err != nil {
			conn.WriteJSON(map[string]string{"error": "subscribe failed"})
			log.Warn("notification subscribe failed", zap.Uint("user_id", a.UserID), zap.Error(err))
			return
		}

		// Client messages are ignored; a read error means the socket closed.
		go func() {
			for {
				if _, _, err := rawConn.ReadMessage(); err != nil {
					cancel()
					return
				}
			}
		}()

		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				if err := conn.WriteText([]byte(msg.Payload)); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.Ping(); err != nil {
					return
				}
			}
		}
	}
}
