package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"walletchat/internal/apperr"
	"walletchat/internal/domain"
	"walletchat/internal/presence"
	"walletchat/internal/security"
	"walletchat/internal/service"
)

type wsAuthError struct {
	status int
	msg    string
}

func (e wsAuthError) Error() string {
	return e.msg
}

func normalizeAllowedOrigins(origins []string) map[string]struct{} {
	res := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		o := strings.TrimSpace(strings.ToLower(origin))
		if o != "" {
			res[o] = struct{}{}
		}
	}
	return res
}

func makeCheckOrigin(allowedOrigins []string) func(r *http.Request) bool {
	allowed := normalizeAllowedOrigins(allowedOrigins)
	if len(allowed) == 0 {
		return func(r *http.Request) bool {
			return false
		}
	}

	return func(r *http.Request) bool {
		origin := strings.TrimSpace(strings.ToLower(r.Header.Get("Origin")))
		if origin == "" {
			return false
		}
		if _, ok := allowed[origin]; ok {
			return true
		}

		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return false
		}
		normalized := strings.ToLower(fmt.Sprintf("%s://%s", u.Scheme, u.Host))
		_, ok := allowed[normalized]
		return ok
	}
}

func extractTokenFromWSRequest(r *http.Request) (string, error) {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		token := strings.TrimSpace(authHeader[len("Bearer "):])
		if token != "" {
			return token, nil
		}
	}

	protocolHeader := r.Header.Get("Sec-WebSocket-Protocol")
	if protocolHeader != "" {
		parts := strings.Split(protocolHeader, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if len(parts) >= 2 && strings.EqualFold(parts[0], "bearer") {
			token := parts[1]
			if token != "" {
				return token, nil
			}
		}
	}

	return "", wsAuthError{status: http.StatusUnauthorized, msg: "missing bearer token"}
}

// lastSeenStore persists disconnect timestamps. DirectoryService satisfies it.
type lastSeenStore interface {
	TouchLastSeen(ctx context.Context, address string, at time.Time) error
}

// releaseBinding drops the connection's presence binding and stamps last-seen.
// The stamp is written even when the binding was already superseded by a newer
// connection: the address was provably reachable on this socket until now.
func releaseBinding(tracker *presence.Tracker, store lastSeenStore, log *zap.Logger, address, handle string, at time.Time) {
	tracker.Unbind(address, handle, at)
	if err := store.TouchLastSeen(context.Background(), address, at); err != nil {
		log.Warn("persist last seen", zap.Error(err))
	}
}

// HandlerConfig tunes the websocket endpoint.
type HandlerConfig struct {
	AllowedOrigins  []string
	EventsPerSecond float64
	EventBurst      int
}

// MakeHandler returns the HTTP handler for /ws.
// Authenticates via Bearer token (Authorization header or
// Sec-WebSocket-Protocol), binds the connection into the presence tracker and
// hub, then dispatches events:
//   - send_message -> persist via the message service, fan out new_message
//   - join_group   -> subscribe this connection to the group room (members only)
//   - leave_group  -> drop the room subscription
//   - typing / stop_typing -> forward the indicator, never persisted
func MakeHandler(
	hub *Hub,
	tokens *security.TokenService,
	directory *service.DirectoryService,
	messages *service.MessageService,
	groups *service.GroupService,
	tracker *presence.Tracker,
	clock service.Clock,
	log *zap.Logger,
	cfg HandlerConfig,
) http.HandlerFunc {
	checkOrigin := makeCheckOrigin(cfg.AllowedOrigins)
	upgrader := websocket.Upgrader{
		CheckOrigin: checkOrigin,
		Subprotocols: []string{
			"bearer",
		},
	}
	if cfg.EventsPerSecond <= 0 {
		cfg.EventsPerSecond = 25
	}
	if cfg.EventBurst <= 0 {
		cfg.EventBurst = 50
	}
	if clock == nil {
		clock = service.RealClock()
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if !checkOrigin(r) {
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}

		tokenStr, err := extractTokenFromWSRequest(r)
		if err != nil {
			hub.metrics.recordAuthFailure()
			if authErr, ok := err.(wsAuthError); ok {
				http.Error(w, authErr.msg, authErr.status)
				return
			}
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		claims, err := tokens.Parse(tokenStr)
		if err != nil {
			hub.metrics.recordAuthFailure()
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		sub, _ := claims["sub"].(string)
		if sub == "" {
			hub.metrics.recordAuthFailure()
			http.Error(w, "invalid token subject", http.StatusUnauthorized)
			return
		}

		ctx := r.Context()
		identity, err := directory.Get(ctx, sub)
		if err != nil || !identity.IsActive || identity.IsBanned {
			hub.metrics.recordAuthFailure()
			http.Error(w, "user not found or inactive", http.StatusUnauthorized)
			return
		}
		address := identity.Address

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		handle := uuid.NewString()
		hub.metrics.connOpened()
		if superseded := hub.Register(address, handle, conn); superseded != nil {
			// Old transport stays open per contract; it just stops
			// receiving fan-out. Closing it anyway frees the socket sooner.
			superseded.Close()
		}
		tracker.Bind(address, handle, clock.Now())

		defer func() {
			hub.metrics.connClosed()
			hub.Unregister(address, handle)
			releaseBinding(tracker, directory, log, address, handle, clock.Now())
		}()

		limiter := rate.NewLimiter(rate.Limit(cfg.EventsPerSecond), cfg.EventBurst)

		for {
			var evt inboundEvent
			if err := conn.ReadJSON(&evt); err != nil {
				break
			}
			if !limiter.Allow() {
				hub.metrics.recordRateLimit()
				_ = conn.WriteJSON(errorPayload("rate limit exceeded"))
				continue
			}
			hub.metrics.recordEvent(evt.Type)

			switch evt.Type {

			case evtSendMessage:
				if evt.Message == nil {
					_ = conn.WriteJSON(errorPayload("send_message requires a message body"))
					continue
				}
				var scope domain.Scope
				switch {
				case evt.GroupID != "":
					scope = domain.GroupScope(evt.GroupID)
				case evt.To != "":
					scope = domain.PeerScope(security.CanonicalAddress(evt.To))
				default:
					_ = conn.WriteJSON(errorPayload("send_message requires to or group_id"))
					continue
				}
				msg, err := messages.Send(ctx, address, scope, service.SendInput{
					Type:      evt.Message.Type,
					Content:   evt.Message.Content,
					File:      evt.Message.File,
					Encrypted: evt.Message.Encrypted,
					ReplyTo:   evt.Message.ReplyTo,
				})
				if err != nil {
					_ = conn.WriteJSON(errorPayload(denialMessage(err)))
					continue
				}
				// Fan-out to the audience happened inside Send; ack the
				// sender with the stored record.
				_ = conn.WriteJSON(newMessagePayload(msg))

			case evtJoinGroup:
				if evt.GroupID == "" {
					continue
				}
				if _, err := groups.Get(ctx, address, evt.GroupID); err != nil {
					_ = conn.WriteJSON(errorPayload(denialMessage(err)))
					continue
				}
				if !hub.JoinRoom(address, handle, evt.GroupID) {
					_ = conn.WriteJSON(errorPayload("connection superseded"))
				}

			case evtLeaveGroup:
				if evt.GroupID == "" {
					continue
				}
				hub.LeaveRoom(address, handle, evt.GroupID)

			case evtTyping, evtStopTyping:
				outType := evtUserTyping
				if evt.Type == evtStopTyping {
					outType = evtUserStopTyping
				}
				payload := map[string]any{
					"type":    outType,
					"address": address,
				}
				switch {
				case evt.GroupID != "":
					if !hub.InRoom(address, evt.GroupID) {
						_ = conn.WriteJSON(errorPayload("join the group first"))
						continue
					}
					payload["group_id"] = evt.GroupID
					hub.BroadcastToRoom(evt.GroupID, payload, address)
				case evt.To != "":
					hub.SendToAddress(security.CanonicalAddress(evt.To), payload)
				}

			default:
				log.Debug("unknown ws event",
					zap.String("type", evt.Type),
					zap.String("address", security.ShortAddress(address)))
			}
		}
	}
}

// denialMessage maps service errors onto caller-safe text. Typed denials keep
// their message; anything else collapses to a generic failure.
func denialMessage(err error) string {
	var app *apperr.AppError
	if errors.As(err, &app) {
		return app.Message
	}
	return "operation failed"
}
