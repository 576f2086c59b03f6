package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/odvcencio/indexq/internal/auth"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token    string `json:"token"`
	Operator string `json:"operator"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		jsonError(w, "username and password are required", http.StatusBadRequest)
		return
	}
	token, err := s.authSvc.Login(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			jsonError(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		s.logger.Error("operator login failed", "operator", req.Username, "error", err)
		jsonError(w, "login failed", http.StatusInternalServerError)
		return
	}
	jsonResponse(w, http.StatusOK, loginResponse{Token: token, Operator: req.Username})
}
