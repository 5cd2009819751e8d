package api

import (
	"encoding/json"
	"math/rand/v2"
	"net/http"
	"strings"

	"github.com/mcdev12/typingblocks/go/internal/typing/realtime"
	"github.com/mcdev12/typingblocks/go/internal/typing/roomcode"
	"github.com/rs/zerolog/log"
)

// MaxClientIDLength bounds the clientId accepted by the token endpoint.
const MaxClientIDLength = 64

const clientIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// CreateRoomResponse is returned by POST /api/typing/rooms.
type CreateRoomResponse struct {
	RoomCode        string `json:"roomCode"`
	TeacherTicket   string `json:"teacherTicket"`
	TeacherClientID string `json:"teacherClientId"`
}

// TokenRequest is the body of POST /api/realtime/token.
type TokenRequest struct {
	RoomCode      string `json:"roomCode"`
	Role          string `json:"role"`
	ClientID      string `json:"clientId"`
	TeacherTicket string `json:"teacherTicket,omitempty"`
}

// TokenResponse wraps the issued token.
type TokenResponse struct {
	TokenRequest realtime.TokenDetails `json:"tokenRequest"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	if s.tickets == nil {
		writeError(w, http.StatusInternalServerError, "Missing ROOM_SIGNING_SECRET environment variable.")
		return
	}

	code := s.newCode()
	clientID := s.clientID(code)
	t, err := s.tickets.Create(code, clientID)
	if err != nil {
		log.Error().Err(err).Msg("failed to create teacher ticket")
		writeError(w, http.StatusInternalServerError, "Unable to create room.")
		return
	}

	log.Info().Str("room_code", code).Str("client_id", clientID).Msg("room created")
	writeJSON(w, http.StatusOK, CreateRoomResponse{
		RoomCode:        code,
		TeacherTicket:   t,
		TeacherClientID: clientID,
	})
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if s.tokens == nil || s.tickets == nil {
		writeError(w, http.StatusInternalServerError, "Missing REALTIME_TOKEN_SECRET or ROOM_SIGNING_SECRET.")
		return
	}

	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	code := roomcode.Normalize(req.RoomCode)
	clientID := strings.TrimSpace(req.ClientID)
	if !roomcode.IsValid(code) {
		writeError(w, http.StatusBadRequest, "Invalid room code.")
		return
	}
	role, err := realtime.ParseRole(req.Role)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid role.")
		return
	}
	if clientID == "" || len(clientID) > MaxClientIDLength {
		writeError(w, http.StatusBadRequest, "Invalid clientId.")
		return
	}

	if role == realtime.RoleTeacher {
		if _, err := s.tickets.Verify(req.TeacherTicket, code, clientID); err != nil {
			log.Warn().Err(err).Str("room_code", code).Str("client_id", clientID).Msg("teacher ticket rejected")
			writeError(w, http.StatusUnauthorized, "Teacher ticket rejected: "+err.Error())
			return
		}
	}

	details, err := s.tokens.Issue(clientID, realtime.CapabilityFor(role, code))
	if err != nil {
		log.Error().Err(err).Msg("failed to issue realtime token")
		writeError(w, http.StatusInternalServerError, "Unable to create token request.")
		return
	}

	log.Debug().Str("room_code", code).Str("client_id", clientID).Str("role", string(role)).Msg("token issued")
	writeJSON(w, http.StatusOK, TokenResponse{TokenRequest: details})
}

// newTeacherClientID returns teacher-<code>-<6 lowercase alphanumerics>.
func newTeacherClientID(roomCode string) string {
	suffix := make([]byte, 6)
	for i := range suffix {
		suffix[i] = clientIDAlphabet[rand.IntN(len(clientIDAlphabet))]
	}
	return "teacher-" + roomCode + "-" + string(suffix)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
