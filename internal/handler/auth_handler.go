// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/slotswap/internal/auth"
	"github.com/hitoshi/slotswap/internal/middleware"
	"github.com/hitoshi/slotswap/internal/model"
)

const oauthStateCookie = "oauth_state"

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Signup(ctx context.Context, in auth.SignupInput) (*model.User, *model.Session, error)
	Login(ctx context.Context, email, password string) (*model.User, *model.Session, error)
	GetGoogleLoginURL(state string) (string, error)
	LoginWithGoogle(ctx context.Context, code string) (*model.User, *model.Session, error)
	Logout(ctx context.Context, sessionID string) error
	GetUser(ctx context.Context, userID string) (*model.User, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

type signupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type googleLoginRequest struct {
	Code  string `json:"code"`
	State string `json:"state"`
}

// authResponse はログイン成功時のレスポンス。
// SPAはtokenをBearerとして送り、ブラウザはCookieでも認証できる。
type authResponse struct {
	User  userResponse `json:"user"`
	Token string       `json:"token"`
}

// Signup はユーザー登録を処理する。
// POST /api/v1/auth/signup
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	user, session, err := h.service.Signup(r.Context(), auth.SignupInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.writeSession(w, http.StatusCreated, user, session, "User registered successfully")
}

// Login はパスワードログインを処理する。
// POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	user, session, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.writeSession(w, http.StatusOK, user, session, "Logged in successfully")
}

// GoogleURL はGoogleの同意画面URLを返し、stateをCookieに保存する。
// GET /api/v1/auth/google/url
func (h *AuthHandler) GoogleURL(w http.ResponseWriter, r *http.Request) {
	state, err := auth.GenerateToken()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	url, err := h.service.GetGoogleLoginURL(state)
	if err != nil {
		writeGoogleError(w, err)
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600, // 10分
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	middleware.WriteJSON(w, http.StatusOK, map[string]string{"url": url}, "Google login URL")
}

// GoogleLogin は認可コードを交換してセッションを発行する。
// POST /api/v1/auth/google/login
func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	var req googleLoginRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || stateCookie.Value == "" || stateCookie.Value != req.State {
		slog.Warn("oauth state mismatch")
		handleServiceError(w, model.NewValidationError("Invalid state parameter"))
		return
	}

	// stateクッキーは一度きり
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	user, session, err := h.service.LoginWithGoogle(r.Context(), req.Code)
	if err != nil {
		writeGoogleError(w, err)
		return
	}

	h.writeSession(w, http.StatusOK, user, session, "Logged in successfully")
}

// Logout はセッションを破棄する。
// POST /api/v1/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if sessionID := middleware.SessionIDFromRequest(r); sessionID != "" {
		if err := h.service.Logout(r.Context(), sessionID); err != nil {
			// ログアウト失敗してもCookieはクリアする
			slog.Error("failed to logout", slog.String("error", err.Error()))
		}
	}

	h.setSessionCookie(w, "", -1)
	middleware.WriteJSON(w, http.StatusOK, nil, "Logged out successfully")
}

// Me は現在のログインユーザー情報を返す。
// GET /api/v1/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	user, err := h.service.GetUser(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, toUserResponse(user.Summary()), "Current user")
}

func (h *AuthHandler) writeSession(w http.ResponseWriter, status int, user *model.User, session *model.Session, message string) {
	h.setSessionCookie(w, session.ID, h.config.SessionMaxAge)
	middleware.WriteJSON(w, status, authResponse{
		User:  toUserResponse(user.Summary()),
		Token: session.ID,
	}, message)
}

func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, value string, maxAge int) {
	setSessionCookie(w, h.config, value, maxAge)
}

// setSessionCookie はセッションCookieを設定する。maxAgeが負ならCookieを消す。
func setSessionCookie(w http.ResponseWriter, config AuthHandlerConfig, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    value,
		Path:     "/",
		Domain:   config.CookieDomain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// writeGoogleError はGoogleログイン未設定を404、それ以外をサービスエラーとして返す。
func writeGoogleError(w http.ResponseWriter, err error) {
	if errors.Is(err, auth.ErrGoogleDisabled) {
		middleware.WriteErrorResponse(w, http.StatusNotFound, &model.APIError{
			Code:     "GOOGLE_LOGIN_DISABLED",
			Message:  "Google login is not available",
			Category: "auth",
			Action:   "Log in with your email and password.",
		})
		return
	}
	handleServiceError(w, err)
}
