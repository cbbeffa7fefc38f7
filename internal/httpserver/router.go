package httpserver

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"walletchat/internal/config"
	"walletchat/internal/presence"
	"walletchat/internal/security"
	"walletchat/internal/service"
	"walletchat/internal/store/sqlite"
	"walletchat/internal/ws"
)

// NewRouter constructs the main HTTP router and wires repositories, services,
// routes and middleware.
func NewRouter(
	cfg *config.Config,
	db *sql.DB,
	hub *ws.Hub,
	tracker *presence.Tracker,
	tokenSvc *security.TokenService,
	verifier security.SignatureVerifier,
	log *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Middlewares
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Repositories
	identityRepo := sqlite.NewIdentityRepo(db)
	groupRepo := sqlite.NewGroupRepo(db)
	msgRepo := sqlite.NewMessageRepo(db)

	// Services
	clock := service.RealClock()
	guard := service.NewGuard(identityRepo, groupRepo, clock)
	directorySvc := service.NewDirectoryService(identityRepo, tokenSvc, verifier, clock, log)
	groupSvc := service.NewGroupService(groupRepo, identityRepo, guard, clock, log,
		cfg.DefaultMaxMembers, time.Duration(cfg.InviteTTLDays)*24*time.Hour)
	msgSvc := service.NewMessageService(msgRepo, identityRepo, groupRepo, guard, clock, log,
		cfg.MaxMessageLength)
	msgSvc.SetNotifier(hub)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"message": "WalletChat API",
			"version": "1.0.0",
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Login is the only unauthenticated endpoint
		r.Post("/auth/login", handleLogin(directorySvc, log))

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(tokenSvc, directorySvc, log))

			r.Get("/auth/me", handleMe())

			// Users
			r.Route("/users", func(r chi.Router) {
				r.Get("/me", handleMe())
				r.Put("/me", handleUpdateProfile(directorySvc, log))
				r.Get("/online", handleListOnline(tracker))
				r.Get("/blocked", handleListBlocked(directorySvc, log))
				r.Post("/block/{address}", handleBlockUser(directorySvc, log))
				r.Post("/unblock/{address}", handleUnblockUser(directorySvc, log))
				r.Get("/{address}", handleGetUser(directorySvc, tracker, log))
			})

			// Friends
			r.Route("/friends", func(r chi.Router) {
				r.Get("/", handleListFriends(directorySvc, log))
				r.Post("/request", handleSendFriendRequest(directorySvc, log))
				r.Get("/requests", handlePendingFriendRequests(directorySvc, log))
				r.Post("/accept/{address}", handleAcceptFriendRequest(directorySvc, log))
				r.Post("/reject/{address}", handleRejectFriendRequest(directorySvc, log))
				r.Delete("/{address}", handleRemoveFriend(directorySvc, log))
			})

			// Messages
			r.Route("/messages", func(r chi.Router) {
				r.Post("/", handleSendMessage(msgSvc, log))
				r.Get("/unread", handleUnreadCount(msgSvc, log))
				r.Get("/chat/{address}", handleDirectThread(msgSvc, log))
				r.Get("/group/{groupID}", handleGroupThread(msgSvc, log))
				r.Put("/{id}/read", handleMarkRead(msgSvc, log))
				r.Put("/{id}/pin", handlePinMessage(msgSvc, log))
				r.Get("/{id}/history", handleEditHistory(msgSvc, log))
				r.Get("/{id}/receipts", handleReadReceipts(msgSvc, log))
				r.Put("/{id}", handleEditMessage(msgSvc, log))
				r.Delete("/{id}", handleDeleteMessage(msgSvc, log))
			})

			// Groups
			r.Route("/groups", func(r chi.Router) {
				r.Post("/", handleCreateGroup(groupSvc, log))
				r.Get("/", handleListGroups(groupSvc, log))
				r.Post("/join/{code}", handleRedeemInvite(groupSvc, log))
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", handleGetGroup(groupSvc, log))
					r.Put("/", handleUpdateGroupProfile(groupSvc, log))
					r.Delete("/", handleDeactivateGroup(groupSvc, log))
					r.Put("/settings", handleUpdateGroupSettings(groupSvc, log))
					r.Post("/members", handleAddMembers(groupSvc, log))
					r.Delete("/members/{address}", handleRemoveMember(groupSvc, log))
					r.Post("/leave", handleLeaveGroup(groupSvc, log))
					r.Post("/admins", handleAppointAdmin(groupSvc, log))
					r.Delete("/admins/{address}", handleDemoteAdmin(groupSvc, log))
					r.Post("/mute", handleMuteMember(groupSvc, log))
					r.Delete("/mute/{address}", handleUnmuteMember(groupSvc, log))
					r.Put("/announcement", handleSetAnnouncement(groupSvc, log))
					r.Post("/transfer", handleTransferOwnership(groupSvc, log))
					r.Put("/nickname", handleSetGroupNickname(groupSvc, log))
					r.Post("/invite", handleGenerateInvite(groupSvc, log))
					r.Get("/requests", handleListJoinRequests(groupSvc, log))
					r.Post("/requests/{address}/approve", handleApproveJoinRequest(groupSvc, log))
					r.Delete("/requests/{address}", handleRejectJoinRequest(groupSvc, log))
				})
			})
		})
	})

	// WebSocket endpoint
	r.Get("/ws", ws.MakeHandler(hub, tokenSvc, directorySvc, msgSvc, groupSvc, tracker, clock, log, ws.HandlerConfig{
		AllowedOrigins:  cfg.CORSOrigins,
		EventsPerSecond: cfg.WSEventsPerSecond,
		EventBurst:      cfg.WSEventBurst,
	}))

	return r
}
