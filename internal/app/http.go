package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"greenlight/api/internal/identity"
	"greenlight/api/internal/live"
	"greenlight/api/internal/search"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	who, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/history" {
		limit := queryInt(r, "limit", 50)
		sessions, err := s.service.History(r.Context(), limit)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		q := search.Query{
			Text:           strings.TrimSpace(r.URL.Query().Get("q")),
			FilterDecision: strings.TrimSpace(r.URL.Query().Get("decision")),
			Limit:          queryInt(r, "limit", 20),
			Offset:         queryInt(r, "offset", 0),
		}
		writeJSON(w, http.StatusOK, s.service.Search(r.Context(), q))
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/sessions/today" {
		sess, err := s.service.FindTodaySession(r.Context())
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, sess)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/sessions" {
		s.handleCreateSession(w, r, who)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "sessions" {
		s.handleSessionScoped(w, r, who, parts[2], parts[3:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"redis":   map[string]any{"status": "ok"},
		"archive": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["redis"] = map[string]any{"status": "error", "error": err.Error()}
	}
	if err := s.service.PingArchive(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["archive"] = map[string]any{"status": "error", "error": err.Error()}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleCreateSession(w http.ResponseWriter, r *http.Request, who identity.Claims) {
	if who.Role != identity.RoleFacilitator {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Only facilitators can open a session", nil)
		return
	}
	var body struct {
		Passcode string `json:"passcode"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if err := s.service.CheckFacilitatorPasscode(body.Passcode); err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}

	sess, err := s.service.EnsureTodaySession(r.Context(), who.Identity)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *HTTPServer) handleSessionScoped(w http.ResponseWriter, r *http.Request, who identity.Claims, code string, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		sess, err := s.service.GetSession(r.Context(), code)
		if err != nil {
			status, errCode, message, details := mapError(err)
			writeError(w, status, errCode, message, details)
			return
		}
		writeJSON(w, http.StatusOK, sess)

	case len(rest) == 1 && rest[0] == "events" && r.Method == http.MethodGet:
		s.handleEvents(w, r, code)

	case len(rest) == 1 && rest[0] == "connect" && r.Method == http.MethodPost:
		sess, err := s.service.Connect(r.Context(), code, who)
		if err != nil {
			status, errCode, message, details := mapError(err)
			writeError(w, status, errCode, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"session":          sess,
			"heartbeatSeconds": int(s.service.HeartbeatInterval().Seconds()),
		})

	case len(rest) == 1 && rest[0] == "heartbeat" && r.Method == http.MethodPost:
		if err := s.service.Heartbeat(r.Context(), code, who); err != nil {
			status, errCode, message, details := mapError(err)
			writeError(w, status, errCode, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(rest) == 1 && rest[0] == "disconnect" && r.Method == http.MethodPost:
		if err := s.service.Disconnect(r.Context(), code, who); err != nil {
			status, errCode, message, details := mapError(err)
			writeError(w, status, errCode, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(rest) == 1 && rest[0] == "agenda" && r.Method == http.MethodGet:
		sess, err := s.service.GetSession(r.Context(), code)
		if err != nil {
			status, errCode, message, details := mapError(err)
			writeError(w, status, errCode, message, details)
			return
		}
		items, err := s.service.Agenda(r.Context(), sess.Date)
		if err != nil {
			status, errCode, message, details := mapError(err)
			writeError(w, status, errCode, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})

	case len(rest) == 1 && rest[0] == "votes" && r.Method == http.MethodPost:
		var body struct {
			AgendaItemID string `json:"agendaItemId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if strings.TrimSpace(body.AgendaItemID) == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "agendaItemId is required", nil)
			return
		}
		sess, voteID, err := s.service.StartVote(r.Context(), code, body.AgendaItemID, who)
		if err != nil {
			status, errCode, message, details := mapError(err)
			writeError(w, status, errCode, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"voteId": voteID, "session": sess})

	case len(rest) == 3 && rest[0] == "votes" && rest[2] == "ballots" && r.Method == http.MethodPost:
		var body struct {
			Decision string `json:"decision"`
			Comment  string `json:"comment"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		sess, result, err := s.service.SubmitBallot(r.Context(), code, rest[1], body.Decision, body.Comment, who)
		if err != nil {
			status, errCode, message, details := mapError(err)
			writeError(w, status, errCode, message, details)
			return
		}
		payload := map[string]any{"session": sess}
		if result != nil {
			payload["result"] = result
		}
		writeJSON(w, http.StatusOK, payload)

	case len(rest) == 3 && rest[0] == "votes" && rest[2] == "close" && r.Method == http.MethodPost:
		sess, err := s.service.CloseEarly(r.Context(), code, rest[1], who)
		if err != nil {
			status, errCode, message, details := mapError(err)
			writeError(w, status, errCode, message, details)
			return
		}
		writeJSON(w, http.StatusOK, sess)

	case len(rest) == 3 && rest[0] == "votes" && rest[2] == "cancel" && r.Method == http.MethodPost:
		sess, err := s.service.CancelVote(r.Context(), code, rest[1], who)
		if err != nil {
			status, errCode, message, details := mapError(err)
			writeError(w, status, errCode, message, details)
			return
		}
		writeJSON(w, http.StatusOK, sess)

	case len(rest) == 1 && rest[0] == "close" && r.Method == http.MethodPost:
		sess, err := s.service.CloseSession(r.Context(), code, who)
		if err != nil {
			status, errCode, message, details := mapError(err)
			writeError(w, status, errCode, message, details)
			return
		}
		writeJSON(w, http.StatusOK, sess)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

// handleEvents streams full session snapshots over SSE: one event per
// committed mutation, plus the current state on connect so late joiners
// render immediately.
func (s *HTTPServer) handleEvents(w http.ResponseWriter, r *http.Request, code string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "STREAMING_UNSUPPORTED", "Streaming unsupported", nil)
		return
	}

	current, err := s.service.GetSession(r.Context(), code)
	if err != nil {
		status, errCode, message, details := mapError(err)
		writeError(w, status, errCode, message, details)
		return
	}

	events, cancel, err := s.service.Subscribe(r.Context(), code)
	if err != nil {
		status, errCode, message, details := mapError(err)
		writeError(w, status, errCode, message, details)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeSSE(w, current)
	flusher.Flush()

	keepAlive := time.NewTicker(25 * time.Second)
	defer keepAlive.Stop()

	for {
		select {
		case sess, ok := <-events:
			if !ok {
				return
			}
			writeSSE(w, sess)
			flusher.Flush()
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeSSE(w http.ResponseWriter, sess *live.LiveSession) {
	data, err := json.Marshal(sess)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

func (s *HTTPServer) requireIdentity(w http.ResponseWriter, r *http.Request) (identity.Claims, bool) {
	token := bearerToken(r)
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return identity.Claims{}, false
	}
	who, err := s.service.SessionFromToken(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return identity.Claims{}, false
	}
	return who, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func randomRequestID() string {
	raw := make([]byte, 8)
	_, _ = rand.Read(raw)
	return hex.EncodeToString(raw)
}

func setCORSHeaders(header http.Header, origin string) {
	header.Set("Access-Control-Allow-Origin", origin)
	header.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	header.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

// mapError turns classified outcomes into specific HTTP responses. Only
// genuinely unexpected store errors fall through to the generic message.
func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}

	switch {
	case errors.Is(err, live.ErrSessionNotFound):
		return http.StatusNotFound, "SESSION_NOT_FOUND", "Session not found", nil
	case errors.Is(err, live.ErrSessionExists):
		return http.StatusConflict, "SESSION_EXISTS", "A session already exists for this date", nil
	case errors.Is(err, live.ErrSessionInactive):
		return http.StatusConflict, "SESSION_CLOSED", "This session is closed", nil
	case errors.Is(err, live.ErrVoteAlreadyActive):
		return http.StatusConflict, "VOTE_ALREADY_ACTIVE", "A vote is already in progress", nil
	case errors.Is(err, live.ErrNoEligibleVoters):
		return http.StatusUnprocessableEntity, "NO_ELIGIBLE_VOTERS", "No reviewers are online", nil
	case errors.Is(err, live.ErrNotOwner):
		return http.StatusForbidden, "NOT_OWNER", "Only the item owner can launch this vote", nil
	case errors.Is(err, live.ErrVoteNotFound):
		return http.StatusNotFound, "VOTE_NOT_FOUND", "Vote not found or no longer active", nil
	case errors.Is(err, live.ErrNotEligible):
		return http.StatusForbidden, "NOT_ELIGIBLE", "You are not eligible to vote on this item", nil
	case errors.Is(err, live.ErrDuplicateVote):
		return http.StatusConflict, "DUPLICATE_VOTE", "You already voted", nil
	case errors.Is(err, live.ErrInvalidDecision):
		return http.StatusUnprocessableEntity, "INVALID_DECISION", "Decision must be approved or needs_revision", nil
	case errors.Is(err, live.ErrVoteInProgress):
		return http.StatusConflict, "VOTE_IN_PROGRESS", "Close or cancel the active vote first", nil
	case errors.Is(err, identity.ErrInvalidToken), errors.Is(err, identity.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}

	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
