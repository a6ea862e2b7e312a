package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"classboard/auth-identity/internal/auth"
	"classboard/auth-identity/internal/config"
	"classboard/auth-identity/internal/model"
	"classboard/auth-identity/internal/session"
)

const minPasswordLength = 6

var loginAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "auth_login_attempts_total",
	Help: "Login attempts by result.",
}, []string{"result"})

type Server struct {
	cfg      config.Config
	sessions *session.Manager
	log      *zap.Logger
}

func NewServer(cfg config.Config, sessions *session.Manager, log *zap.Logger) *Server {
	return &Server{cfg: cfg, sessions: sessions, log: log}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/auth/register", s.handleRegister)
	r.Post("/auth/login", s.handleLogin)
	r.Post("/auth/refresh-token", s.handleRefresh)

	r.With(s.authMiddleware).Get("/auth/me", s.handleGetMe)
	r.With(s.authMiddleware).Post("/auth/change-password", s.handleChangePassword)
	r.With(s.authMiddleware, s.requireRoles(model.RoleAdmin, model.RoleSchoolAdmin)).Get("/auth/users", s.handleListUsers)

	return r
}

type registerRequest struct {
	Email     string  `json:"email"`
	Password  string  `json:"password"`
	FirstName string  `json:"firstName"`
	LastName  string  `json:"lastName"`
	Role      string  `json:"role"`
	Phone     *string `json:"phone,omitempty"`
}

type userSummary struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Role      string `json:"role"`
}

func summarize(user model.User) userSummary {
	return userSummary{
		ID:        user.ID,
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Role:      string(user.Role),
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || req.Password == "" || strings.TrimSpace(req.FirstName) == "" || strings.TrimSpace(req.LastName) == "" || req.Role == "" {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}
	if len(req.Password) < minPasswordLength {
		writeError(w, http.StatusBadRequest, "password_too_short")
		return
	}

	user, err := s.sessions.Register(r.Context(), session.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Role:      req.Role,
		Phone:     req.Phone,
	})
	if err != nil {
		switch {
		case errors.Is(err, session.ErrInvalidRole):
			writeError(w, http.StatusBadRequest, "invalid_role")
		case errors.Is(err, session.ErrEmailTaken):
			writeError(w, http.StatusBadRequest, "email_taken")
		case errors.Is(err, session.ErrUnavailable):
			writeError(w, http.StatusServiceUnavailable, "storage_unavailable")
		default:
			s.serverError(w, err)
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"user":    summarize(user),
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Success      bool        `json:"success"`
	Token        string      `json:"token"`
	RefreshToken string      `json:"refreshToken"`
	User         userSummary `json:"user"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing_credentials")
		return
	}

	result, err := s.sessions.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		loginAttempts.WithLabelValues("failure").Inc()
		switch {
		case errors.Is(err, session.ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, "invalid_credentials")
		case errors.Is(err, session.ErrAccountDeactivated):
			writeError(w, http.StatusUnauthorized, "account_deactivated")
		case errors.Is(err, session.ErrUnavailable):
			writeError(w, http.StatusServiceUnavailable, "storage_unavailable")
		default:
			s.serverError(w, err)
		}
		return
	}

	loginAttempts.WithLabelValues("success").Inc()
	writeJSON(w, http.StatusOK, loginResponse{
		Success:      true,
		Token:        result.AccessToken,
		RefreshToken: result.RefreshToken,
		User:         summarize(result.User),
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "missing_refresh_token")
		return
	}

	accessToken, err := s.sessions.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrInvalidRefreshToken):
			writeError(w, http.StatusUnauthorized, "invalid_refresh_token")
		case errors.Is(err, session.ErrUnavailable):
			writeError(w, http.StatusServiceUnavailable, "storage_unavailable")
		default:
			s.serverError(w, err)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"token":   accessToken,
	})
}

type meResponse struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	FirstName   string     `json:"firstName"`
	LastName    string     `json:"lastName"`
	Phone       *string    `json:"phone"`
	Role        string     `json:"role"`
	LastLogin   *time.Time `json:"lastLogin"`
	CreatedAt   time.Time  `json:"createdAt"`
	RoleDetails any        `json:"roleDetails"`
}

func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}

	profile, err := s.sessions.Profile(r.Context(), claims.UserID)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrUserNotFound):
			writeError(w, http.StatusNotFound, "user_not_found")
		case errors.Is(err, session.ErrUnavailable):
			writeError(w, http.StatusServiceUnavailable, "storage_unavailable")
		default:
			s.serverError(w, err)
		}
		return
	}

	user := profile.User
	writeJSON(w, http.StatusOK, meResponse{
		ID:          user.ID,
		Email:       user.Email,
		FirstName:   user.FirstName,
		LastName:    user.LastName,
		Phone:       user.Phone,
		Role:        string(user.Role),
		LastLogin:   user.LastLogin,
		CreatedAt:   user.CreatedAt,
		RoleDetails: profile.RoleDetails,
	})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}

	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}
	if len(req.NewPassword) < minPasswordLength {
		writeError(w, http.StatusBadRequest, "password_too_short")
		return
	}

	if err := s.sessions.ChangePassword(r.Context(), claims.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		switch {
		case errors.Is(err, session.ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, "invalid_credentials")
		case errors.Is(err, session.ErrUserNotFound):
			writeError(w, http.StatusNotFound, "user_not_found")
		case errors.Is(err, session.ErrUnavailable):
			writeError(w, http.StatusServiceUnavailable, "storage_unavailable")
		default:
			s.serverError(w, err)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	users, err := s.sessions.Users(r.Context(), limit)
	if err != nil {
		if errors.Is(err, session.ErrUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "storage_unavailable")
			return
		}
		s.serverError(w, err)
		return
	}

	summaries := make([]userSummary, 0, len(users))
	for _, user := range users {
		summaries = append(summaries, summarize(user))
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}

		claims, err := auth.ParseAccessToken(s.cfg.AccessTokenSecret, token)
		if err != nil {
			if errors.Is(err, auth.ErrTokenExpired) {
				writeError(w, http.StatusUnauthorized, "token_expired")
				return
			}
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRoles gates a route on the authenticated identity's role. It runs
// after authMiddleware and holds no state beyond the allowed set.
func (s *Server) requireRoles(roles ...model.Role) func(http.Handler) http.Handler {
	allowed := make(map[model.Role]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := claimsFromContext(r.Context())
			if claims == nil {
				writeError(w, http.StatusUnauthorized, "missing_token")
				return
			}
			if _, ok := allowed[model.Role(claims.Role)]; !ok {
				writeError(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type claimsKey struct{}

func claimsFromContext(ctx context.Context) *auth.AccessClaims {
	value := ctx.Value(claimsKey{})
	claims, _ := value.(*auth.AccessClaims)
	return claims
}

func (s *Server) serverError(w http.ResponseWriter, err error) {
	s.log.Error("internal error", zap.Error(err))
	if s.cfg.Development() {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":  "server_error",
			"detail": err.Error(),
		})
		return
	}
	writeError(w, http.StatusInternalServerError, "server_error")
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
