package main

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/MrEthical07/authlab"
	"github.com/MrEthical07/authlab/credential"
	"github.com/MrEthical07/authlab/metrics/export/prometheus"
	"github.com/MrEthical07/authlab/middleware"
	"github.com/MrEthical07/authlab/oauth"
	"github.com/MrEthical07/authlab/oauthclient"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type server struct {
	engine *authlab.Engine
	client *oauthclient.Client
	logger *zap.Logger
}

func newServer(engine *authlab.Engine, client *oauthclient.Client, logger *zap.Logger) *server {
	return &server{engine: engine, client: client, logger: logger}
}

func (s *server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.requestContext)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	r.Handle("/metrics", prometheus.New(s.engine).Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/login", s.login).Methods(http.MethodPost)
	api.HandleFunc("/login/mfa", s.loginMFA).Methods(http.MethodPost)
	api.HandleFunc("/refresh", s.refresh).Methods(http.MethodPost)
	api.HandleFunc("/logout", s.logout).Methods(http.MethodPost)

	guarded := api.NewRoute().Subrouter()
	guarded.Use(middleware.Guard(s.engine))
	guarded.HandleFunc("/me", s.me).Methods(http.MethodGet)
	guarded.HandleFunc("/logout-all", s.logoutAll).Methods(http.MethodPost)
	guarded.HandleFunc("/oauth/login", s.oauthLogin).Methods(http.MethodPost)
	guarded.HandleFunc("/mfa", s.mfaStatus).Methods(http.MethodGet)
	guarded.HandleFunc("/mfa", s.mfaDisable).Methods(http.MethodDelete)
	guarded.HandleFunc("/mfa/setup", s.mfaSetup).Methods(http.MethodPost)
	guarded.HandleFunc("/mfa/verify", s.mfaVerify).Methods(http.MethodPost)
	guarded.Handle("/admin", middleware.RequireRole(credential.RoleAdmin)(http.HandlerFunc(s.me))).Methods(http.MethodGet)

	provider := r.PathPrefix("/oauth").Subrouter()
	s.engine.OAuthHandler(s.sessionUser).Routes(provider)
	provider.HandleFunc("/start", s.oauthStart).Methods(http.MethodGet)
	provider.HandleFunc("/callback", s.oauthCallback).Methods(http.MethodGet)

	return r
}

func (s *server) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		next.ServeHTTP(w, r.WithContext(authlab.WithClientIP(r.Context(), host)))
	})
}

// sessionUser lets the provider's /authorize see the browser's lab session.
func (s *server) sessionUser(r *http.Request) (int64, bool) {
	sid, ok := middleware.SessionID(r)
	if !ok {
		return 0, false
	}
	res, err := s.engine.ValidateSession(r.Context(), sid)
	if err != nil {
		return 0, false
	}
	return res.UserID, true
}

/*
====================================
LOGIN
====================================
*/

type loginBody struct {
	Identifier string       `json:"identifier"`
	Password   string       `json:"password"`
	Flow       authlab.Flow `json:"flow"`
}

type loginResponse struct {
	UserID       int64              `json:"user_id"`
	Flow         authlab.Flow       `json:"flow"`
	ExpiresAt    *time.Time         `json:"expires_at,omitempty"`
	Tokens       *authlab.TokenPair `json:"tokens,omitempty"`
	MFARequired  bool               `json:"mfa_required,omitempty"`
	MFAChallenge string             `json:"mfa_challenge,omitempty"`
	MFAExpiresAt *time.Time         `json:"mfa_expires_at,omitempty"`
}

func (s *server) login(w http.ResponseWriter, r *http.Request) {
	var body loginBody
	if !decode(w, r, &body) {
		return
	}
	prior, _ := middleware.SessionID(r)
	res, err := s.engine.Login(r.Context(), authlab.LoginRequest{
		Identifier:     body.Identifier,
		Password:       body.Password,
		Flow:           body.Flow,
		PriorSessionID: prior,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeLogin(w, res)
}

func (s *server) loginMFA(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Challenge string `json:"challenge"`
		Code      string `json:"code"`
		Backup    bool   `json:"backup"`
	}
	if !decode(w, r, &body) {
		return
	}
	res, err := s.engine.CompleteMFALogin(r.Context(), body.Challenge, body.Code, body.Backup)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeLogin(w, res)
}

func (s *server) writeLogin(w http.ResponseWriter, res *authlab.LoginResult) {
	out := loginResponse{UserID: res.UserID, Flow: res.Flow, Tokens: res.Tokens}
	switch {
	case res.MFARequired:
		out.MFARequired = true
		out.MFAChallenge = res.MFAChallenge
		out.MFAExpiresAt = &res.MFAExpiresAt
	case res.Session != nil:
		middleware.SetSessionCookie(w, res.Session.SessionID)
		out.ExpiresAt = &res.Session.ExpiresAt
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) refresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if !decode(w, r, &body) {
		return
	}
	pair, err := s.engine.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (s *server) logout(w http.ResponseWriter, r *http.Request) {
	if sid, ok := middleware.SessionID(r); ok {
		if err := s.engine.Logout(r.Context(), sid); err != nil {
			s.writeError(w, err)
			return
		}
		middleware.ClearSessionCookie(w)
	}

	var body struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if r.ContentLength > 0 && !decode(w, r, &body) {
		return
	}
	if body.AccessToken != "" || body.RefreshToken != "" {
		if err := s.engine.LogoutTokens(r.Context(), body.AccessToken, body.RefreshToken); err != nil {
			s.writeError(w, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) logoutAll(w http.ResponseWriter, r *http.Request) {
	res, _ := middleware.AuthResultFromContext(r.Context())
	if err := s.engine.LogoutAll(r.Context(), res.UserID); err != nil {
		s.writeError(w, err)
		return
	}
	middleware.ClearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) me(w http.ResponseWriter, r *http.Request) {
	res, _ := middleware.AuthResultFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":  res.UserID,
		"username": res.Username,
		"email":    res.Email,
		"role":     res.Role,
	})
}

/*
====================================
MFA
====================================
*/

func (s *server) mfaSetup(w http.ResponseWriter, r *http.Request) {
	res, _ := middleware.AuthResultFromContext(r.Context())
	setup, err := s.engine.BeginMFASetup(r.Context(), res.UserID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"secret":      setup.Secret,
		"qrPayload":   setup.QRPayload,
		"manualEntry": setup.ManualEntry,
		"backupCodes": setup.BackupCodes,
	})
}

func (s *server) mfaVerify(w http.ResponseWriter, r *http.Request) {
	res, _ := middleware.AuthResultFromContext(r.Context())
	var body struct {
		Code   string `json:"code"`
		Backup bool   `json:"backup"`
	}
	if !decode(w, r, &body) {
		return
	}
	out, err := s.engine.VerifyMFA(r.Context(), res.UserID, body.Code, body.Backup)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"activated":              out.Activated,
		"used_backup_code":       out.UsedBackupCode,
		"backup_codes_remaining": out.BackupCodesRemaining,
	})
}

func (s *server) mfaStatus(w http.ResponseWriter, r *http.Request) {
	res, _ := middleware.AuthResultFromContext(r.Context())
	st, err := s.engine.MFAStatus(r.Context(), res.UserID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"state":   st.State.String(),
		"enabled": st.Enabled,
	})
}

func (s *server) mfaDisable(w http.ResponseWriter, r *http.Request) {
	res, _ := middleware.AuthResultFromContext(r.Context())
	if err := s.engine.DisableMFA(r.Context(), res.UserID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

/*
====================================
OAUTH
====================================
*/

// oauthLogin runs the code flow for the caller's own provider identity; the
// lab session or bearer token stands in for the provider login.
func (s *server) oauthLogin(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.AuthResultFromContext(r.Context())
	var body struct {
		State string `json:"state"`
	}
	if r.ContentLength > 0 && !decode(w, r, &body) {
		return
	}
	res, err := s.engine.LoginWithOAuth(r.Context(), authlab.OAuthLoginRequest{
		ProviderUserID: caller.UserID,
		State:          body.State,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := map[string]interface{}{
		"user_id": res.UserID,
		"profile": res.Profile,
	}
	if res.MFARequired {
		out["mfa_required"] = true
		out["mfa_challenge"] = res.MFAChallenge
		out["mfa_expires_at"] = res.MFAExpiresAt
	} else {
		out["tokens"] = res.Tokens
	}
	writeJSON(w, http.StatusOK, out)
}

// oauthStart sends the browser through the provider as the lab's own client.
func (s *server) oauthStart(w http.ResponseWriter, r *http.Request) {
	state, err := s.client.GenerateState()
	if err != nil {
		s.writeError(w, err)
		return
	}
	http.Redirect(w, r, s.client.AuthCodeURL(state), http.StatusFound)
}

func (s *server) oauthCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if code := q.Get("error"); code != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": code, "error_description": q.Get("error_description")})
		return
	}
	if err := s.client.ValidateState(q.Get("state")); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": oauth.CodeInvalidRequest, "error_description": err.Error()})
		return
	}

	tok, err := s.client.Exchange(r.Context(), q.Get("code"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": oauthclient.ErrorCode(err)})
		return
	}
	profile, err := s.client.UserInfo(r.Context(), tok)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"profile":    profile,
		"token_type": tok.TokenType,
		"expires_at": tok.Expiry,
	})
}

/*
====================================
HELPERS
====================================
*/

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return false
	}
	return true
}

func (s *server) writeError(w http.ResponseWriter, err error) {
	pub := authlab.Public(err)
	status := statusFor(pub)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}

	var oe *oauth.Error
	if errors.As(pub, &oe) {
		writeJSON(w, status, map[string]string{"error": oe.Code, "error_description": oe.Description})
		return
	}
	writeJSON(w, status, map[string]string{"error": pub.Error()})
}

func statusFor(pub error) int {
	var oe *oauth.Error
	switch {
	case errors.As(pub, &oe):
		if oe.Code == oauth.CodeInvalidClient || oe.Code == oauth.CodeInvalidToken {
			return http.StatusUnauthorized
		}
		return http.StatusBadRequest
	case errors.Is(pub, authlab.ErrMFAAlreadyEnabled):
		return http.StatusConflict
	case errors.Is(pub, authlab.ErrMFANotEnrolled):
		return http.StatusBadRequest
	case errors.Is(pub, authlab.ErrInternal), errors.Is(pub, authlab.ErrEngineNotReady):
		return http.StatusInternalServerError
	default:
		return http.StatusUnauthorized
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
