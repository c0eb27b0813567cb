package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// UserResolver returns the authenticated resource owner of an authorize
// request, or ok=false when there is none.
type UserResolver func(r *http.Request) (userID int64, ok bool)

// Handler exposes a Provider over HTTP.
type Handler struct {
	provider *Provider
	users    UserResolver
	logger   *zap.Logger
}

// NewHandler returns a Handler. users decides who is authorizing.
func NewHandler(p *Provider, users UserResolver) *Handler {
	return &Handler{provider: p, users: users, logger: p.logger}
}

// Routes registers /authorize, /token and /userinfo on r.
func (h *Handler) Routes(r *mux.Router) {
	r.HandleFunc("/authorize", h.authorize).Methods(http.MethodGet)
	r.HandleFunc("/token", h.token).Methods(http.MethodPost)
	r.HandleFunc("/userinfo", h.userinfo).Methods(http.MethodGet)
}

// Router returns a fresh router with the provider routes mounted.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	h.Routes(r)
	return r
}

func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := AuthorizeRequest{
		ResponseType: q.Get("response_type"),
		ClientID:     q.Get("client_id"),
		RedirectURI:  q.Get("redirect_uri"),
		Scope:        q.Get("scope"),
		State:        q.Get("state"),
	}
	if h.users != nil {
		if uid, ok := h.users(r); ok {
			req.UserID = uid
		}
	}
	if req.UserID <= 0 {
		http.Error(w, "login required", http.StatusUnauthorized)
		return
	}

	res, err := h.provider.Authorize(r.Context(), req)
	if err != nil {
		oe := AsError(err)
		// Client and redirect problems must not redirect (RFC 6749 §4.1.2.1).
		if oe.Code == CodeUnsupportedResponseType {
			if target, ok := errorRedirect(req.RedirectURI, oe, req.State); ok {
				http.Redirect(w, r, target, http.StatusFound)
				return
			}
		}
		h.writeError(w, oe)
		return
	}
	http.Redirect(w, r, res.RedirectURL, http.StatusFound)
}

func (h *Handler) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeError(w, invalidRequest("malformed form body"))
		return
	}
	grant, err := ParseGrant(r.PostForm)
	if err != nil {
		h.writeError(w, AsError(err))
		return
	}

	clientID, clientSecret, basic := r.BasicAuth()
	if basic {
		clientID, _ = url.QueryUnescape(clientID)
		clientSecret, _ = url.QueryUnescape(clientSecret)
	} else {
		clientID = r.PostForm.Get("client_id")
		clientSecret = r.PostForm.Get("client_secret")
	}

	res, err := h.provider.Token(r.Context(), TokenRequest{
		Grant:        grant,
		ClientID:     clientID,
		ClientSecret: clientSecret,
	})
	if err != nil {
		oe := AsError(err)
		if oe.Code == CodeInvalidClient && basic {
			w.Header().Set("WWW-Authenticate", `Basic realm="authlab"`)
		}
		h.writeError(w, oe)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) userinfo(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		w.Header().Set("WWW-Authenticate", `Bearer realm="authlab"`)
		h.writeError(w, invalidToken(ReasonTokenInvalid))
		return
	}
	profile, err := h.provider.GetUserInfo(r.Context(), token)
	if err != nil {
		oe := AsError(err)
		if oe.Code == CodeInvalidToken {
			w.Header().Set("WWW-Authenticate", `Bearer realm="authlab", error="invalid_token"`)
		}
		h.writeError(w, oe)
		return
	}
	h.writeJSON(w, http.StatusOK, profile)
}

type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

func (h *Handler) writeError(w http.ResponseWriter, oe *Error) {
	if oe.Code == CodeServerError {
		h.logger.Error("oauth request failed", zap.Error(oe.Err))
	}
	h.writeJSON(w, statusFor(oe.Code), errorBody{Error: oe.Code, ErrorDescription: oe.Description})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debug("write oauth response", zap.Error(err))
	}
}

func statusFor(code string) int {
	switch code {
	case CodeInvalidClient, CodeInvalidToken:
		return http.StatusUnauthorized
	case CodeServerError:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func errorRedirect(base string, oe *Error, state string) (string, bool) {
	params := url.Values{"error": {oe.Code}}
	if oe.Description != "" {
		params.Set("error_description", oe.Description)
	}
	target, err := withQuery(base, params, state)
	if err != nil {
		return "", false
	}
	return target, true
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}
	token := strings.TrimSpace(value[len(bearer):])
	return token, token != ""
}

type userContextKey struct{}

// WithUser stores an authenticated user id for ContextUser.
func WithUser(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userContextKey{}, userID)
}

// ContextUser is a UserResolver reading the id set by WithUser.
func ContextUser(r *http.Request) (int64, bool) {
	uid, ok := r.Context().Value(userContextKey{}).(int64)
	return uid, ok && uid > 0
}
