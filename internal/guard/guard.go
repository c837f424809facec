// Package guard はページ単位のセッションガードを提供する。
// 認証状態とプロフィールのロールから、要求を許可するかリダイレクトするかを判定する。
package guard

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/clinicman/internal/auth"
	"github.com/hitoshi/clinicman/internal/clientstate"
	"github.com/hitoshi/clinicman/internal/metrics"
	"github.com/hitoshi/clinicman/internal/middleware"
	"github.com/hitoshi/clinicman/internal/model"
)

// Outcome はガードの判定結果。
type Outcome string

const (
	OutcomePermit         Outcome = "permit"
	OutcomeNoSession      Outcome = "no_session"
	OutcomeProfileMissing Outcome = "profile_missing"
	OutcomeRoleForbidden  Outcome = "role_forbidden"
)

// Decision は1回の判定結果。判定間で状態は保持しない。
type Decision struct {
	Outcome Outcome
	// Profile は許可時およびロール不一致時に設定される。
	Profile *model.UserProfile
	// Err は拒否時の理由。許可時はnil。
	Err *model.APIError
}

// Permitted は要求が許可されたかを返す。
func (d Decision) Permitted() bool { return d.Outcome == OutcomePermit }

// ProfileFinder はプロフィールの参照に必要なインターフェース。
type ProfileFinder interface {
	FindByID(ctx context.Context, uid string) (*model.UserProfile, error)
}

// SessionAuthority は認証基盤のうちガードが使う操作。
type SessionAuthority interface {
	EndSession(ctx context.Context, sessionID string) error
	OnSessionChange(ctx context.Context, sessionID string, fn auth.SessionListener) func()
}

// ClientState はリダイレクト先やフラッシュメッセージを保持するクライアント状態。
type ClientState interface {
	Get(r *http.Request, key string) (string, bool)
	Set(w http.ResponseWriter, key, value string)
	Remove(w http.ResponseWriter, key string)
}

// Config はガードの設定。
type Config struct {
	// DefaultPath はロール不一致時とログイン後の既定の遷移先。
	DefaultPath string
	Cookie      middleware.SessionCookieConfig
}

// Guard はセッションガード。
type Guard struct {
	profiles ProfileFinder
	sessions SessionAuthority
	state    ClientState
	metrics  metrics.MetricsCollector
	config   Config
	now      func() time.Time
}

// New はGuardを生成する。
func New(profiles ProfileFinder, sessions SessionAuthority, state ClientState, m metrics.MetricsCollector, config Config) *Guard {
	if config.DefaultPath == "" {
		config.DefaultPath = "/"
	}
	if m == nil {
		m = metrics.NopCollector{}
	}
	return &Guard{
		profiles: profiles,
		sessions: sessions,
		state:    state,
		metrics:  m,
		config:   config,
		now:      time.Now,
	}
}

// Evaluate はセッションと許可ロールから判定を行う。
// プロフィールの読み込みに失敗した場合も存在しない場合と同じく拒否する。
// 空のallowedは認証済みの全ロールを許可する。
func (g *Guard) Evaluate(ctx context.Context, session *model.Session, allowed model.RoleSet) Decision {
	if !session.IsAuthenticated(g.now()) {
		return Decision{Outcome: OutcomeNoSession, Err: model.NewUnauthenticatedError()}
	}

	profile, err := g.profiles.FindByID(ctx, session.UserID)
	if err != nil {
		slog.Error("profile lookup failed",
			slog.String("user_id", session.UserID),
			slog.String("error", err.Error()),
		)
		return Decision{Outcome: OutcomeProfileMissing, Err: model.NewProfileNotFoundError()}
	}
	if profile == nil {
		slog.Warn("profile not found for authenticated user",
			slog.String("user_id", session.UserID),
		)
		return Decision{Outcome: OutcomeProfileMissing, Err: model.NewProfileNotFoundError()}
	}

	if !allowed.Allows(profile.Role) {
		names := allowed.Names()
		if len(names) == 0 {
			names = model.NewRoleSet(model.AllRoles()...).Names()
		}
		return Decision{
			Outcome: OutcomeRoleForbidden,
			Profile: profile,
			Err:     model.NewRoleForbiddenError(names),
		}
	}

	return Decision{Outcome: OutcomePermit, Profile: profile}
}

// EndInvalidSession はプロフィールを持たないセッションを認証基盤で終了させる。
func (g *Guard) EndInvalidSession(ctx context.Context, session *model.Session) {
	if session == nil {
		return
	}
	if err := g.sessions.EndSession(ctx, session.ID); err != nil {
		slog.Error("failed to end session without profile",
			slog.String("user_id", session.UserID),
			slog.String("error", err.Error()),
		)
	}
}

// Location は拒否された判定の遷移先を返す。
// 未ログインとプロフィール欠落はログインページ、ロール不一致は既定ページ。
func (g *Guard) Location(d Decision, loginDestination string) string {
	switch d.Outcome {
	case OutcomeNoSession, OutcomeProfileMissing:
		return loginDestination
	case OutcomeRoleForbidden:
		return g.config.DefaultPath
	default:
		return ""
	}
}

// Watch はセッションの変化を購読し、通知のたびに判定をやり直してfnに渡す。
// fnは直ちに1回呼ばれる。ログアウトや期限切れではOutcomeNoSessionが渡される。
func (g *Guard) Watch(ctx context.Context, sessionID string, allowed model.RoleSet, fn func(Decision)) func() {
	return g.sessions.OnSessionChange(ctx, sessionID, func(session *model.Session) {
		d := g.Evaluate(ctx, session, allowed)
		g.metrics.RecordGuardDecision(string(d.Outcome))
		if d.Outcome == OutcomeProfileMissing {
			g.EndInvalidSession(ctx, session)
		}
		fn(d)
	})
}

// Option はProtectの挙動を調整する。
type Option func(*options)

type options struct {
	deniedMessages map[model.Role]string
}

// WithDeniedMessage はロール不一致時に表示するメッセージをロール単位で上書きする。
func WithDeniedMessage(role model.Role, message string) Option {
	return func(o *options) {
		if o.deniedMessages == nil {
			o.deniedMessages = make(map[model.Role]string)
		}
		o.deniedMessages[role] = message
	}
}

// Protect はallowedのロールのみにハンドラーを公開するミドルウェアを返す。
// セッションミドルウェアの内側に配置すること。
func (g *Guard) Protect(allowed model.RoleSet, loginDestination string, opts ...Option) func(next http.Handler) http.Handler {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			session := middleware.SessionFromContext(ctx)
			d := g.Evaluate(ctx, session, allowed)

			g.metrics.RecordGuardDecision(string(d.Outcome))
			attrs := []slog.Attr{slog.String("guard", string(d.Outcome))}
			if d.Profile != nil {
				attrs = append(attrs, slog.String("role", string(d.Profile.Role)))
			}
			middleware.AnnotateRequest(ctx, attrs...)

			switch d.Outcome {
			case OutcomePermit:
				next.ServeHTTP(w, r.WithContext(ContextWithProfile(ctx, d.Profile)))

			case OutcomeNoSession:
				if r.Method == http.MethodGet || r.Method == http.MethodHead {
					g.state.Set(w, clientstate.KeyRedirectAfterLogin, r.URL.RequestURI())
				}
				g.deny(w, r, http.StatusUnauthorized, d.Err, loginDestination)

			case OutcomeProfileMissing:
				g.EndInvalidSession(ctx, session)
				middleware.ClearSessionCookie(w, g.config.Cookie)
				g.state.Set(w, clientstate.KeyFlashMessage, d.Err.Message)
				g.deny(w, r, http.StatusUnauthorized, d.Err, loginDestination)

			case OutcomeRoleForbidden:
				apiErr := *d.Err
				if msg, ok := o.deniedMessages[d.Profile.Role]; ok {
					apiErr.Message = msg
				}
				g.state.Set(w, clientstate.KeyFlashMessage, apiErr.Message)
				g.deny(w, r, http.StatusForbidden, &apiErr, g.config.DefaultPath)
			}
		})
	}
}

// deny はブラウザには303リダイレクト、JSONクライアントには遷移先を含むエラーを返す。
func (g *Guard) deny(w http.ResponseWriter, r *http.Request, status int, apiErr *model.APIError, location string) {
	if WantsJSON(r) {
		middleware.WriteRedirectErrorResponse(w, status, apiErr, location)
		return
	}
	http.Redirect(w, r, location, http.StatusSeeOther)
}

// LoginRedirectTarget はログイン完了後の遷移先を決定し、保存済みの値を消去する。
// 安全なローカルパスでない値は無視して既定ページを返す。
func (g *Guard) LoginRedirectTarget(w http.ResponseWriter, r *http.Request) string {
	target, ok := g.state.Get(r, clientstate.KeyRedirectAfterLogin)
	if !ok {
		return g.config.DefaultPath
	}
	g.state.Remove(w, clientstate.KeyRedirectAfterLogin)
	if !IsSafeLocalPath(target) {
		return g.config.DefaultPath
	}
	return target
}

// CompleteLoginRedirect はログイン前に要求されたページへ遷移させる。
// JSONクライアントには {"location": ...} を返す。
func (g *Guard) CompleteLoginRedirect(w http.ResponseWriter, r *http.Request) {
	target := g.LoginRedirectTarget(w, r)
	if WantsJSON(r) {
		writeLocation(w, target)
		return
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// IsSafeLocalPath は値が同一オリジン内の絶対パスかどうかを返す。
func IsSafeLocalPath(p string) bool {
	if !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") || strings.HasPrefix(p, "/\\") {
		return false
	}
	return !strings.ContainsAny(p, "\r\n")
}

// WantsJSON はクライアントがJSONレスポンスを期待しているかを返す。
func WantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json") ||
		strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
}
