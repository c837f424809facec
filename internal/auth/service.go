// Package auth はパスワード認証、セッション管理、セッション変化の通知を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/clinicman/internal/model"
	"github.com/hitoshi/clinicman/internal/repository"
)

// DefaultMinPasswordLength はパスワードの最小文字数の既定値。
const DefaultMinPasswordLength = 6

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge     int // セッション有効期間（秒）
	MinPasswordLength int
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	accounts repository.AccountRepository
	sessions repository.SessionRepository
	hasher   PasswordHasher
	config   ServiceConfig
	notifier *sessionNotifier
	now      func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	accounts repository.AccountRepository,
	sessions repository.SessionRepository,
	hasher PasswordHasher,
	config ServiceConfig,
) *Service {
	if config.MinPasswordLength <= 0 {
		config.MinPasswordLength = DefaultMinPasswordLength
	}
	return &Service{
		accounts: accounts,
		sessions: sessions,
		hasher:   hasher,
		config:   config,
		notifier: newSessionNotifier(),
		now:      time.Now,
	}
}

// CreateAccount はアカウントを作成し、そのままログイン済みのセッションを発行する。
func (s *Service) CreateAccount(ctx context.Context, email, password string) (*model.Session, error) {
	email = strings.TrimSpace(email)
	if !validEmail(email) {
		return nil, model.NewInvalidEmailError()
	}
	if len(password) < s.config.MinPasswordLength {
		return nil, model.NewWeakPasswordError(s.config.MinPasswordLength)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	account := &model.Account{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    s.now(),
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, model.NewEmailInUseError()
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	slog.Info("account created", slog.String("user_id", account.ID))

	return s.createSession(ctx, account)
}

// VerifyCredentials はメールアドレスとパスワードを照合し、セッションを発行する。
// アカウントの有無に関わらず同じエラーを返す。
func (s *Service) VerifyCredentials(ctx context.Context, email, password string) (*model.Session, error) {
	email = strings.TrimSpace(email)
	if !validEmail(email) {
		return nil, model.NewInvalidEmailError()
	}

	account, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	if account == nil {
		return nil, model.NewInvalidCredentialsError()
	}
	if err := s.hasher.Compare(account.PasswordHash, password); err != nil {
		slog.Info("login failed", slog.String("user_id", account.ID))
		return nil, model.NewInvalidCredentialsError()
	}

	return s.createSession(ctx, account)
}

// EndSession はセッションを破棄し、購読者へnilを通知する。
func (s *Service) EndSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessions.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	s.notifier.ended(sessionID)
	slog.Info("session ended", slog.String("session_id", sessionID))
	return nil
}

// CurrentSession は有効なセッションを返す。未ログインまたは期限切れの場合はnilを返す。
func (s *Service) CurrentSession(ctx context.Context, sessionID string) (*model.Session, error) {
	if sessionID == "" {
		return nil, nil
	}
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if !session.IsAuthenticated(s.now()) {
		return nil, nil
	}
	return session, nil
}

// OnSessionChange はセッションの状態変化を購読する。
// fnは直ちに現在のセッション（未ログインならnil）で呼ばれ、以後はEndSessionまたは
// 期限切れの時点でnilで1回呼ばれる。セッションの読み込みに失敗した場合はnilとして扱う。
// ctxが終了すると購読は解除される。
func (s *Service) OnSessionChange(ctx context.Context, sessionID string, fn SessionListener) func() {
	session, err := s.CurrentSession(ctx, sessionID)
	if err != nil {
		slog.Warn("session lookup failed", slog.String("error", err.Error()))
		session = nil
	}

	unsubscribe := func() {}
	if session != nil {
		unsubscribe = s.notifier.add(sessionID, session, fn, s.now())
		if ctx.Done() != nil {
			go func() {
				<-ctx.Done()
				unsubscribe()
			}()
		}
	}

	fn(session)
	return unsubscribe
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, account *model.Account) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    account.ID,
		Email:     account.Email,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// validEmail はメールアドレスが単一のアドレス形式かどうかを判定する。
func validEmail(email string) bool {
	if email == "" {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
