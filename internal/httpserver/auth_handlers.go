package httpserver

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"walletchat/internal/service"
)

type loginRequest struct {
	Address   string `json:"address"`
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

// handleLogin authenticates a wallet signature and issues a session token,
// creating the identity on first login.
func handleLogin(directory *service.DirectoryService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
		result, err := directory.Login(r.Context(), req.Address, req.Message, req.Signature)
		if err != nil {
			writeError(w, log, err)
			return
		}
		status := http.StatusOK
		if result.Created {
			status = http.StatusCreated
		}
		writeJSON(w, status, result)
	}
}

// handleMe returns the authenticated identity.
func handleMe() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := CurrentIdentity(r)
		if identity == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		writeJSON(w, http.StatusOK, identity)
	}
}
