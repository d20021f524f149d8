package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/MrEthical07/guardian"
	"github.com/MrEthical07/guardian/metrics/export/prometheus"
	"github.com/MrEthical07/guardian/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

const (
	maxBodyBytes    = 1 << 16
	managePrivilege = "accounts:manage"
)

type server struct {
	engine *guardian.Engine
	logger *zap.Logger
}

func newRouter(engine *guardian.Engine, logger *zap.Logger, withMetrics bool) http.Handler {
	s := &server{engine: engine, logger: logger}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.ClientIP)
	r.Use(recoverer(logger))
	r.Use(requestLogger(logger))

	r.Get("/healthz", s.health)
	if withMetrics {
		r.Method(http.MethodGet, "/metrics", prometheus.NewExporter(engine).Handler())
	}

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", s.register)
		r.Post("/login", s.login)
		r.Post("/login/totp", s.loginWithTOTP)
		r.Post("/refresh", s.refresh)
		r.Post("/logout", s.logout)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Guard(engine))
		r.Get("/me", s.me)
		r.Post("/me/password", s.resetPassword)
		r.Get("/me/totp", s.totpStatus)
		r.Post("/me/totp/setup", s.setupTOTP)
		r.Post("/me/totp/enable", s.enableTOTP)
		r.Delete("/me/totp", s.disableTOTP)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware.Guard(engine))
		r.Use(middleware.RequirePrivilege(managePrivilege))

		r.Get("/stats", s.stats)
		r.Get("/security-report", s.securityReport)
		r.Get("/accounts/locked", s.lockedAccounts)
		r.Post("/accounts", s.registerByAdmin)
		r.Get("/accounts/{email}", s.accountStatus)
		r.Post("/accounts/{email}/failed-attempts", s.adminAction(engine.UpdateFailedAttempts))
		r.Post("/accounts/{email}/unlock", s.adminAction(engine.UnlockAccount))
		r.Post("/accounts/{email}/lock", s.adminAction(engine.LockAccount))
		r.Post("/accounts/{email}/reset-lock", s.adminAction(engine.ResetAccountLock))
		r.Get("/addresses/{addr}", s.addressStatus)
		r.Delete("/addresses/{addr}/block", s.unblockAddress)
	})

	return r
}

type tokenResponse struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

func newTokenResponse(p *guardian.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:      p.AccessToken,
		RefreshToken:     p.RefreshToken,
		TokenType:        "Bearer",
		AccessExpiresAt:  p.AccessExpiresAt,
		RefreshExpiresAt: p.RefreshExpiresAt,
	}
}

type accountResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	Roles     []string  `json:"roles"`
	CreatedAt time.Time `json:"created_at"`
}

func newAccountResponse(a *guardian.Account) accountResponse {
	return accountResponse{
		ID:        a.ID,
		Email:     a.Email,
		Name:      a.Name,
		Roles:     a.Roles,
		CreatedAt: a.CreatedAt,
	}
}

type statusResponse struct {
	Email            string     `json:"email"`
	State            string     `json:"state"`
	Locked           bool       `json:"locked"`
	Permanent        bool       `json:"permanent"`
	FailedAttempts   int        `json:"failed_attempts"`
	LockCount        int        `json:"lock_count"`
	LockedAt         *time.Time `json:"locked_at,omitempty"`
	SecondsRemaining int64      `json:"seconds_remaining"`
}

func newStatusResponse(st guardian.AccountStatus) statusResponse {
	return statusResponse(st)
}

func (s *server) register(w http.ResponseWriter, r *http.Request) {
	var req guardian.RegisterRequest
	if !decode(w, r, &req) {
		return
	}
	acct, err := s.engine.Register(r.Context(), req, guardian.ClientIPFromContext(r.Context()))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newAccountResponse(acct))
}

func (s *server) registerByAdmin(w http.ResponseWriter, r *http.Request) {
	var req guardian.RegisterRequest
	if !decode(w, r, &req) {
		return
	}
	acct, err := s.engine.RegisterByAdmin(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newAccountResponse(acct))
}

func (s *server) login(w http.ResponseWriter, r *http.Request) {
	var req guardian.LoginRequest
	if !decode(w, r, &req) {
		return
	}
	pair, err := s.engine.Login(r.Context(), req, guardian.ClientIPFromContext(r.Context()))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newTokenResponse(pair))
}

func (s *server) loginWithTOTP(w http.ResponseWriter, r *http.Request) {
	var req guardian.LoginWithTOTPRequest
	if !decode(w, r, &req) {
		return
	}
	pair, err := s.engine.LoginWithTOTP(r.Context(), req, guardian.ClientIPFromContext(r.Context()))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newTokenResponse(pair))
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// refresh reads the token from the body, or from the Authorization header
// when the body is empty.
func (s *server) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if r.ContentLength != 0 {
		if !decode(w, r, &req) {
			return
		}
	}
	presented := req.RefreshToken
	if presented == "" {
		presented = r.Header.Get("Authorization")
	}

	pair, ok, err := s.engine.Refresh(r.Context(), presented)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid_token"})
		return
	}
	writeJSON(w, http.StatusOK, newTokenResponse(pair))
}

func (s *server) logout(w http.ResponseWriter, r *http.Request) {
	s.engine.Logout(r.Context(), r.Header.Get("Authorization"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) me(w http.ResponseWriter, r *http.Request) {
	p, _ := guardian.PrincipalFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"id":         p.AccountID,
		"email":      p.Email,
		"name":       p.Name,
		"roles":      p.Roles,
		"privileges": p.Privileges,
	})
}

type passwordRequest struct {
	Password string `json:"password"`
}

func (s *server) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if !decode(w, r, &req) {
		return
	}
	p, _ := guardian.PrincipalFromContext(r.Context())
	pair, err := s.engine.ResetPasswordFromProfile(r.Context(), p.Email, req.Password)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newTokenResponse(pair))
}

func (s *server) totpStatus(w http.ResponseWriter, r *http.Request) {
	p, _ := guardian.PrincipalFromContext(r.Context())
	enabled, err := s.engine.TOTPStatus(r.Context(), p.Email)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": enabled})
}

func (s *server) setupTOTP(w http.ResponseWriter, r *http.Request) {
	p, _ := guardian.PrincipalFromContext(r.Context())
	setup, err := s.engine.SetupTOTP(r.Context(), p.Email)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"secret": setup.Secret, "uri": setup.URI})
}

type totpCodeRequest struct {
	Code string `json:"code"`
}

func (s *server) enableTOTP(w http.ResponseWriter, r *http.Request) {
	var req totpCodeRequest
	if !decode(w, r, &req) {
		return
	}
	p, _ := guardian.PrincipalFromContext(r.Context())
	if err := s.engine.EnableTOTP(r.Context(), p.Email, req.Code); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": true})
}

func (s *server) disableTOTP(w http.ResponseWriter, r *http.Request) {
	p, _ := guardian.PrincipalFromContext(r.Context())
	if err := s.engine.DisableTOTP(r.Context(), p.Email); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) adminAction(op func(ctx context.Context, email string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		email := chi.URLParam(r, "email")
		if err := op(r.Context(), email); err != nil {
			s.writeError(w, err)
			return
		}
		s.accountStatus(w, r)
	}
}

func (s *server) accountStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.AccountStatus(r.Context(), chi.URLParam(r, "email"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newStatusResponse(st))
}

func (s *server) lockedAccounts(w http.ResponseWriter, r *http.Request) {
	list, err := s.engine.LockedAccounts(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]statusResponse, 0, len(list))
	for _, st := range list {
		out = append(out, newStatusResponse(st))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) stats(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.Stats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"total": st.Total, "locked": st.Locked})
}

func (s *server) securityReport(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.SecurityReport())
}

func (s *server) addressStatus(w http.ResponseWriter, r *http.Request) {
	addr := chi.URLParam(r, "addr")
	attempts, err := s.engine.AddressAttempts(r.Context(), addr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address":  addr,
		"attempts": attempts,
		"blocked":  s.engine.AddressBlocked(r.Context(), addr),
	})
}

func (s *server) unblockAddress(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.UnblockAddress(r.Context(), chi.URLParam(r, "addr")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	h := s.engine.Health(r.Context())
	status := "ok"
	if h.RedisConfigured && !h.RedisAvailable {
		// The throttle fails open, so the service keeps answering.
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          status,
		"redis_available": h.RedisAvailable,
		"redis_latency":   h.RedisLatency.String(),
	})
}

type errorBody struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func (s *server) writeError(w http.ResponseWriter, err error) {
	var (
		verr   *guardian.ValidationError
		locked *guardian.LockedError
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Fields: verr.Fields})
	case errors.Is(err, guardian.ErrInvalidRequest), errors.Is(err, guardian.ErrInvalidRole):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request"})
	case errors.Is(err, guardian.ErrTOTPRequired):
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "totp_required"})
	case errors.Is(err, guardian.ErrTOTPInvalid):
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "totp_invalid"})
	case errors.Is(err, guardian.ErrBadCredentials):
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "bad_credentials"})
	case errors.Is(err, guardian.ErrTokenInvalid):
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid_token"})
	case errors.Is(err, guardian.ErrForbiddenRole), errors.Is(err, guardian.ErrPermissionDenied):
		writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden"})
	case errors.Is(err, guardian.ErrAccountNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found"})
	case errors.Is(err, guardian.ErrEmailExists):
		writeJSON(w, http.StatusConflict, errorBody{Error: "email_exists"})
	case errors.Is(err, guardian.ErrTOTPNotConfigured):
		writeJSON(w, http.StatusConflict, errorBody{Error: "totp_not_set_up"})
	case errors.As(err, &locked):
		w.Header().Set("Retry-After", strconv.FormatInt(locked.SecondsRemaining, 10))
		writeJSON(w, http.StatusLocked, errorBody{Error: "account_locked"})
	case errors.Is(err, guardian.ErrAccountLockedPermanent):
		writeJSON(w, http.StatusLocked, errorBody{Error: "account_locked"})
	case errors.Is(err, guardian.ErrIPBlocked):
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "too_many_attempts"})
	default:
		s.logger.Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal_error"})
	}
}

// decode writes a 400 and returns false when the body is not valid JSON.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed_body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
