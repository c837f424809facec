// Package handler はHTTPハンドラーとルーティングを提供する。
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/clinicman/internal/clientstate"
	"github.com/hitoshi/clinicman/internal/metrics"
	"github.com/hitoshi/clinicman/internal/middleware"
	"github.com/hitoshi/clinicman/internal/model"
	"github.com/hitoshi/clinicman/internal/user"
)

// ログイン結果のメトリクスラベル
const (
	loginSuccess  = "success"
	loginFailure  = "failure"
	loginRejected = "role_rejected"
)

// signupCompleteMessage は新規登録後にログイン画面で表示するメッセージ。
const signupCompleteMessage = "登録が完了しました。ログインしてください。"

// AuthServiceInterface は認証ハンドラーが必要とする認証基盤のインターフェース。
type AuthServiceInterface interface {
	CreateAccount(ctx context.Context, email, password string) (*model.Session, error)
	VerifyCredentials(ctx context.Context, email, password string) (*model.Session, error)
	EndSession(ctx context.Context, sessionID string) error
}

// ProfileServiceInterface はプロフィールの作成とロール照合のインターフェース。
type ProfileServiceInterface interface {
	ValidateSignup(in user.SignupInput) (model.Role, error)
	CreateProfile(ctx context.Context, uid string, in user.SignupInput) (*model.UserProfile, error)
	CheckLoginRole(ctx context.Context, uid, requested string) (*model.UserProfile, error)
}

// LoginRedirector はログイン完了後の遷移を行う。
type LoginRedirector interface {
	CompleteLoginRedirect(w http.ResponseWriter, r *http.Request)
}

// ClientState はクライアント側に保持する状態。
type ClientState interface {
	Get(r *http.Request, key string) (string, bool)
	Set(w http.ResponseWriter, key, value string)
	Remove(w http.ResponseWriter, key string)
	Pop(w http.ResponseWriter, r *http.Request, key string) (string, bool)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	LoginPath string
	Cookie    middleware.SessionCookieConfig
}

// AuthHandler はアカウント登録・ログイン・ログアウトのHTTPハンドラー。
type AuthHandler struct {
	auth       AuthServiceInterface
	profiles   ProfileServiceInterface
	redirector LoginRedirector
	state      ClientState
	metrics    metrics.MetricsCollector
	config     AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(
	auth AuthServiceInterface,
	profiles ProfileServiceInterface,
	redirector LoginRedirector,
	state ClientState,
	m metrics.MetricsCollector,
	config AuthHandlerConfig,
) *AuthHandler {
	if m == nil {
		m = metrics.NopCollector{}
	}
	return &AuthHandler{
		auth:       auth,
		profiles:   profiles,
		redirector: redirector,
		state:      state,
		metrics:    m,
		config:     config,
	}
}

type signupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type meResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
}

type flashResponse struct {
	Message string `json:"message,omitempty"`
}

// Signup はアカウントとプロフィールを作成し、ログイン画面へ遷移させる。
// 作成直後のセッションは終了させ、改めてログインさせる。
// POST /auth/signup
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	in := user.SignupInput{Name: req.Name, Email: req.Email, Role: req.Role}
	if _, err := h.profiles.ValidateSignup(in); err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	session, err := h.auth.CreateAccount(r.Context(), req.Email, req.Password)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	in.Email = session.Email
	if _, err := h.profiles.CreateProfile(r.Context(), session.UserID, in); err != nil {
		// アカウントは残るため、以後のログインは整合性エラーになる
		slog.Error("account created without profile",
			slog.String("account_id", session.UserID),
			slog.String("email", session.Email),
			slog.String("error", err.Error()),
		)
		h.endSession(r.Context(), session.ID)
		middleware.WriteError(w, r, err)
		return
	}
	h.endSession(r.Context(), session.ID)

	h.state.Set(w, clientstate.KeyFlashMessage, signupCompleteMessage)
	redirect(w, r, h.config.LoginPath, http.StatusCreated)
}

// Login は資格情報を照合し、ロール指定がある場合は登録ロールと一致するかを確認する。
// 成功時はログイン前に要求されたページへ遷移させる。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	session, err := h.auth.VerifyCredentials(r.Context(), req.Email, req.Password)
	if err != nil {
		h.metrics.RecordLogin(loginFailure)
		middleware.WriteError(w, r, err)
		return
	}

	if _, err := h.profiles.CheckLoginRole(r.Context(), session.UserID, req.Role); err != nil {
		h.metrics.RecordLogin(loginRejected)
		h.endSession(r.Context(), session.ID)
		middleware.WriteError(w, r, err)
		return
	}

	h.metrics.RecordLogin(loginSuccess)
	middleware.SetSessionCookie(w, session.ID, h.config.Cookie)
	h.redirector.CompleteLoginRedirect(w, r)
}

// Logout はセッションを破棄し、ログイン画面へ遷移させる。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if sessionID := middleware.SessionIDFromRequest(r); sessionID != "" {
		h.endSession(r.Context(), sessionID)
	}
	middleware.ClearSessionCookie(w, h.config.Cookie)
	redirect(w, r, h.config.LoginPath, http.StatusOK)
}

// Me は現在のセッションを返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	session := middleware.SessionFromContext(r.Context())
	if session == nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}
	writeJSON(w, http.StatusOK, meResponse{
		ID:        session.UserID,
		Email:     session.Email,
		ExpiresAt: session.ExpiresAt,
	})
}

// Flash は保留中の通知メッセージを返して消去する。
// GET /auth/flash
func (h *AuthHandler) Flash(w http.ResponseWriter, r *http.Request) {
	msg, _ := h.state.Pop(w, r, clientstate.KeyFlashMessage)
	writeJSON(w, http.StatusOK, flashResponse{Message: msg})
}

// Profile はログイン中のユーザーのプロフィールを返す。
// GET /api/profile
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	profile, ok := currentProfile(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// endSession はセッションを終了させる。失敗しても処理は続ける。
func (h *AuthHandler) endSession(ctx context.Context, sessionID string) {
	if err := h.auth.EndSession(ctx, sessionID); err != nil {
		slog.Error("failed to end session", slog.String("error", err.Error()))
	}
}
