package realtime

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// TokenVerifier resolves a bearer token to its user id.
type TokenVerifier interface {
	VerifyToken(token string) (uint64, error)
}

// Server upgrades authenticated requests and pumps hub messages to them.
type Server struct {
	Hub            *Hub
	Auth           TokenVerifier
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	OriginPatterns []string
	Logger         *zap.Logger
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s == nil || s.Hub == nil || s.Auth == nil {
		http.Error(w, "realtime unavailable", http.StatusServiceUnavailable)
		return
	}
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		token = strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	}
	userID, err := s.Auth.VerifyToken(token)
	if err != nil || userID == 0 {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	patterns := s.OriginPatterns
	if len(patterns) == 0 {
		patterns = []string{"*"}
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: patterns})
	if err != nil {
		s.logger().Debug("ws accept failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(64 << 10)
	s.serve(r.Context(), conn, userID)
}

func (s *Server) serve(parent context.Context, conn *websocket.Conn, userID uint64) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sub := s.Hub.Subscribe(userID)
	defer s.Hub.Unsubscribe(sub)
	log := s.logger().With(zap.Uint64("user_id", userID))
	log.Debug("ws connected")

	// Client pings are answered from the reader so the writer stays the only
	// goroutine writing frames.
	pongs := make(chan struct{}, 1)
	go func() {
		defer cancel()
		for {
			var in Message
			if err := wsjson.Read(ctx, conn, &in); err != nil {
				if !errors.Is(err, context.Canceled) && websocket.CloseStatus(err) == -1 {
					log.Debug("ws read ended", zap.Error(err))
				}
				return
			}
			if in.Type == TypePing {
				select {
				case pongs <- struct{}{}:
				default:
				}
			}
		}
	}()

	if err := s.write(ctx, conn, Message{Type: TypeConnected, Data: map[string]any{"userId": userID}, Timestamp: time.Now().UTC()}); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "write failed")
		return
	}

	interval := s.PingInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		var err error
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusGoingAway, "")
			return
		case msg := <-sub.C():
			err = s.write(ctx, conn, msg)
		case <-pongs:
			err = s.write(ctx, conn, Message{Type: TypePong, Timestamp: time.Now().UTC()})
		case <-ticker.C:
			err = s.write(ctx, conn, Message{Type: TypePing, Timestamp: time.Now().UTC()})
		}
		if err != nil {
			log.Debug("ws write failed", zap.Error(err))
			_ = conn.Close(websocket.StatusInternalError, "write failed")
			return
		}
	}
}

func (s *Server) write(ctx context.Context, conn *websocket.Conn, msg Message) error {
	timeout := s.WriteTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return wsjson.Write(wctx, conn, msg)
}

func (s *Server) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
