package httpserver

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"walletchat/internal/domain"
	"walletchat/internal/security"
	"walletchat/internal/service"
)

type messageCreateRequest struct {
	To        string             `json:"to"`
	GroupID   string             `json:"group_id"`
	Type      domain.MessageType `json:"type"`
	Content   string             `json:"content"`
	File      *domain.FileInfo   `json:"file"`
	Encrypted bool               `json:"encrypted"`
	ReplyTo   *string            `json:"reply_to"`
}

func handleSendMessage(messages *service.MessageService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := CurrentIdentity(r)
		if identity == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		var req messageCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
		var scope domain.Scope
		switch {
		case req.GroupID != "" && req.To != "":
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "to and group_id are mutually exclusive"})
			return
		case req.GroupID != "":
			scope = domain.GroupScope(req.GroupID)
		case req.To != "":
			scope = domain.PeerScope(security.CanonicalAddress(req.To))
		default:
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "to or group_id is required"})
			return
		}

		msg, err := messages.Send(r.Context(), identity.Address, scope, service.SendInput{
			Type:      req.Type,
			Content:   req.Content,
			File:      req.File,
			Encrypted: req.Encrypted,
			ReplyTo:   req.ReplyTo,
		})
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusCreated, msg)
	}
}

func pageParams(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	return limit, offset
}

func handleDirectThread(messages *service.MessageService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := CurrentIdentity(r)
		if identity == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		limit, offset := pageParams(r)
		msgs, err := messages.Thread(r.Context(), identity.Address, chi.URLParam(r, "address"), limit, offset)
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, msgs)
	}
}

func handleGroupThread(messages *service.MessageService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := CurrentIdentity(r)
		if identity == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		limit, offset := pageParams(r)
		msgs, err := messages.GroupThread(r.Context(), identity.Address, chi.URLParam(r, "groupID"), limit, offset)
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, msgs)
	}
}

func handleMarkRead(messages *service.MessageService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := CurrentIdentity(r)
		if identity == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		if err := messages.MarkRead(r.Context(), identity.Address, chi.URLParam(r, "id")); err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "read"})
	}
}

type messageEditRequest struct {
	Content string `json:"content"`
}

func handleEditMessage(messages *service.MessageService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := CurrentIdentity(r)
		if identity == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		var req messageEditRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
		msg, err := messages.Edit(r.Context(), identity.Address, chi.URLParam(r, "id"), req.Content)
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, msg)
	}
}

func handleEditHistory(messages *service.MessageService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := CurrentIdentity(r)
		if identity == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		hist, err := messages.EditHistory(r.Context(), identity.Address, chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, hist)
	}
}

type pinRequest struct {
	Pinned bool `json:"pinned"`
}

func handlePinMessage(messages *service.MessageService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := CurrentIdentity(r)
		if identity == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		var req pinRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
		if err := messages.SetPinned(r.Context(), identity.Address, chi.URLParam(r, "id"), req.Pinned); err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"pinned": req.Pinned})
	}
}

func handleDeleteMessage(messages *service.MessageService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := CurrentIdentity(r)
		if identity == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		if err := messages.SoftDelete(r.Context(), identity.Address, chi.URLParam(r, "id")); err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleReadReceipts(messages *service.MessageService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := CurrentIdentity(r)
		if identity == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		receipts, err := messages.ReadReceipts(r.Context(), identity.Address, chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, receipts)
	}
}

func handleUnreadCount(messages *service.MessageService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := CurrentIdentity(r)
		if identity == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		count, err := messages.UnreadCount(r.Context(), identity.Address)
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"unread": count})
	}
}
