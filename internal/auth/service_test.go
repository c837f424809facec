package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/clinicman/internal/model"
	"github.com/hitoshi/clinicman/internal/repository"
)

// --- モック定義 ---

type mockAccountRepo struct {
	createFn      func(ctx context.Context, account *model.Account) error
	findByEmailFn func(ctx context.Context, email string) (*model.Account, error)
}

func (m *mockAccountRepo) Create(ctx context.Context, account *model.Account) error {
	if m.createFn != nil {
		return m.createFn(ctx, account)
	}
	return nil
}

func (m *mockAccountRepo) FindByEmail(ctx context.Context, email string) (*model.Account, error) {
	if m.findByEmailFn != nil {
		return m.findByEmailFn(ctx, email)
	}
	return nil, nil
}

func (m *mockAccountRepo) FindByID(_ context.Context, _ string) (*model.Account, error) {
	return nil, nil
}

type mockSessionRepo struct {
	createFn     func(ctx context.Context, session *model.Session) error
	findByIDFn   func(ctx context.Context, id string) (*model.Session, error)
	deleteByIDFn func(ctx context.Context, id string) error
}

func (m *mockSessionRepo) Create(ctx context.Context, session *model.Session) error {
	if m.createFn != nil {
		return m.createFn(ctx, session)
	}
	return nil
}

func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if m.deleteByIDFn != nil {
		return m.deleteByIDFn(ctx, id)
	}
	return nil
}

func (m *mockSessionRepo) DeleteByUserID(_ context.Context, _ string) error {
	return nil
}

// plainHasher はテスト用にハッシュ化を行わないPasswordHasher。
type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) { return "hashed:" + password, nil }
func (plainHasher) Compare(hash, password string) error {
	if hash != "hashed:"+password {
		return errors.New("mismatch")
	}
	return nil
}

// --- compile-time interface checks ---
var _ repository.AccountRepository = (*mockAccountRepo)(nil)
var _ repository.SessionRepository = (*mockSessionRepo)(nil)
var _ PasswordHasher = plainHasher{}

func newTestService(accounts *mockAccountRepo, sessions *mockSessionRepo) *Service {
	return NewService(accounts, sessions, plainHasher{}, ServiceConfig{SessionMaxAge: 3600})
}

func assertAPIErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError, got %T: %v", err, err)
	}
	if apiErr.Code != code {
		t.Errorf("Code = %q, want %q", apiErr.Code, code)
	}
}

// --- テスト ---

func TestCreateAccount_IssuesSession(t *testing.T) {
	var created *model.Account
	var saved *model.Session
	svc := newTestService(
		&mockAccountRepo{createFn: func(_ context.Context, a *model.Account) error { created = a; return nil }},
		&mockSessionRepo{createFn: func(_ context.Context, s *model.Session) error { saved = s; return nil }},
	)

	session, err := svc.CreateAccount(context.Background(), " ann@example.com ", "secret1")
	if err != nil {
		t.Fatalf("CreateAccount() error = %v", err)
	}
	if created == nil || created.Email != "ann@example.com" || created.PasswordHash != "hashed:secret1" {
		t.Errorf("created account = %+v", created)
	}
	if session == nil || saved == nil || session.UserID != created.ID {
		t.Fatalf("session = %+v, saved = %+v", session, saved)
	}
	if session.Email != "ann@example.com" {
		t.Errorf("session email = %q", session.Email)
	}
	if !session.ExpiresAt.After(time.Now().Add(59 * time.Minute)) {
		t.Errorf("ExpiresAt = %v, want about one hour ahead", session.ExpiresAt)
	}
}

func TestCreateAccount_Validation(t *testing.T) {
	svc := newTestService(&mockAccountRepo{}, &mockSessionRepo{})

	_, err := svc.CreateAccount(context.Background(), "not-an-email", "secret1")
	assertAPIErrorCode(t, err, model.ErrCodeInvalidEmail)

	_, err = svc.CreateAccount(context.Background(), "ann@example.com", "12345")
	assertAPIErrorCode(t, err, model.ErrCodeWeakPassword)
}

func TestCreateAccount_EmailInUse(t *testing.T) {
	svc := newTestService(
		&mockAccountRepo{createFn: func(context.Context, *model.Account) error { return repository.ErrDuplicateEmail }},
		&mockSessionRepo{},
	)
	_, err := svc.CreateAccount(context.Background(), "ann@example.com", "secret1")
	assertAPIErrorCode(t, err, model.ErrCodeEmailInUse)
}

func TestVerifyCredentials(t *testing.T) {
	account := &model.Account{ID: "u1", Email: "ann@example.com", PasswordHash: "hashed:secret1"}
	svc := newTestService(
		&mockAccountRepo{findByEmailFn: func(_ context.Context, email string) (*model.Account, error) {
			if email == account.Email {
				return account, nil
			}
			return nil, nil
		}},
		&mockSessionRepo{},
	)

	session, err := svc.VerifyCredentials(context.Background(), "ann@example.com", "secret1")
	if err != nil {
		t.Fatalf("VerifyCredentials() error = %v", err)
	}
	if session.UserID != "u1" {
		t.Errorf("UserID = %q, want u1", session.UserID)
	}

	_, err = svc.VerifyCredentials(context.Background(), "ann@example.com", "wrong")
	assertAPIErrorCode(t, err, model.ErrCodeInvalidCredentials)

	_, err = svc.VerifyCredentials(context.Background(), "bob@example.com", "secret1")
	assertAPIErrorCode(t, err, model.ErrCodeInvalidCredentials)
}

func TestVerifyCredentials_RepoError(t *testing.T) {
	svc := newTestService(
		&mockAccountRepo{findByEmailFn: func(context.Context, string) (*model.Account, error) {
			return nil, errors.New("db down")
		}},
		&mockSessionRepo{},
	)
	_, err := svc.VerifyCredentials(context.Background(), "ann@example.com", "secret1")
	var apiErr *model.APIError
	if err == nil || errors.As(err, &apiErr) {
		t.Fatalf("expected plain wrapped error, got %v", err)
	}
}

func TestCurrentSession(t *testing.T) {
	valid := &model.Session{ID: "s1", UserID: "u1", ExpiresAt: time.Now().Add(time.Hour)}
	svc := newTestService(&mockAccountRepo{}, &mockSessionRepo{
		findByIDFn: func(_ context.Context, id string) (*model.Session, error) {
			if id == "s1" {
				return valid, nil
			}
			return nil, nil
		},
	})

	got, err := svc.CurrentSession(context.Background(), "s1")
	if err != nil || got != valid {
		t.Errorf("CurrentSession(s1) = %v, %v", got, err)
	}
	got, err = svc.CurrentSession(context.Background(), "")
	if err != nil || got != nil {
		t.Errorf("CurrentSession(\"\") = %v, %v; want nil", got, err)
	}
	got, err = svc.CurrentSession(context.Background(), "unknown")
	if err != nil || got != nil {
		t.Errorf("CurrentSession(unknown) = %v, %v; want nil", got, err)
	}
}

// TestOnSessionChange_FiresImmediatelyAndOnEnd は購読直後とログアウト時に通知されることを検証する。
func TestOnSessionChange_FiresImmediatelyAndOnEnd(t *testing.T) {
	valid := &model.Session{ID: "s1", UserID: "u1", ExpiresAt: time.Now().Add(time.Hour)}
	deleted := false
	svc := newTestService(&mockAccountRepo{}, &mockSessionRepo{
		findByIDFn: func(context.Context, string) (*model.Session, error) {
			if deleted {
				return nil, nil
			}
			return valid, nil
		},
		deleteByIDFn: func(context.Context, string) error { deleted = true; return nil },
	})

	var got []*model.Session
	svc.OnSessionChange(context.Background(), "s1", func(s *model.Session) {
		got = append(got, s)
	})

	if err := svc.EndSession(context.Background(), "s1"); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	// 2回目の終了では購読者はすでにいない
	_ = svc.EndSession(context.Background(), "s1")

	if len(got) != 2 || got[0] != valid || got[1] != nil {
		t.Errorf("notifications = %v, want [session nil]", got)
	}
}

func TestOnSessionChange_NoSession(t *testing.T) {
	svc := newTestService(&mockAccountRepo{}, &mockSessionRepo{})

	calls := 0
	unsubscribe := svc.OnSessionChange(context.Background(), "", func(s *model.Session) {
		calls++
		if s != nil {
			t.Errorf("expected nil session, got %+v", s)
		}
	})
	unsubscribe()

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestOnSessionChange_LookupErrorTreatedAsSignedOut(t *testing.T) {
	svc := newTestService(&mockAccountRepo{}, &mockSessionRepo{
		findByIDFn: func(context.Context, string) (*model.Session, error) {
			return nil, errors.New("db down")
		},
	})

	var got *model.Session = &model.Session{}
	svc.OnSessionChange(context.Background(), "s1", func(s *model.Session) { got = s })
	if got != nil {
		t.Errorf("expected nil session on lookup failure, got %+v", got)
	}
}

// TestOnSessionChange_Expiry は期限切れ時にnilで通知されることを検証する。
func TestOnSessionChange_Expiry(t *testing.T) {
	soon := &model.Session{ID: "s1", UserID: "u1", ExpiresAt: time.Now().Add(30 * time.Millisecond)}
	svc := newTestService(&mockAccountRepo{}, &mockSessionRepo{
		findByIDFn: func(context.Context, string) (*model.Session, error) { return soon, nil },
	})

	var mu sync.Mutex
	var got []*model.Session
	done := make(chan struct{})
	svc.OnSessionChange(context.Background(), "s1", func(s *model.Session) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, s)
		if s == nil {
			close(done)
		}
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expiry notification not received")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got[1] != nil {
		t.Errorf("notifications = %v", got)
	}
	if n := svc.notifier.count("s1"); n != 0 {
		t.Errorf("watchers = %d, want 0", n)
	}
}

func TestOnSessionChange_Unsubscribe(t *testing.T) {
	valid := &model.Session{ID: "s1", UserID: "u1", ExpiresAt: time.Now().Add(time.Hour)}
	svc := newTestService(&mockAccountRepo{}, &mockSessionRepo{
		findByIDFn: func(context.Context, string) (*model.Session, error) { return valid, nil },
	})

	calls := 0
	unsubscribe := svc.OnSessionChange(context.Background(), "s1", func(*model.Session) { calls++ })
	unsubscribe()
	_ = svc.EndSession(context.Background(), "s1")

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestEndSession_RequiresID(t *testing.T) {
	svc := newTestService(&mockAccountRepo{}, &mockSessionRepo{})
	if err := svc.EndSession(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty session ID")
	}
}

func TestBcryptHasher(t *testing.T) {
	h := NewBcryptHasher(4)
	hash, err := h.Hash("secret1")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if err := h.Compare(hash, "secret1"); err != nil {
		t.Errorf("Compare(correct) = %v", err)
	}
	if err := h.Compare(hash, "wrong"); err == nil {
		t.Error("Compare(wrong) should fail")
	}
}
