package repository

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/clinicman/internal/database"
	"github.com/hitoshi/clinicman/internal/model"
)

// PostgresAccountRepoはAccountRepositoryインターフェースを満たすことを検証
func TestPostgresAccountRepo_ImplementsInterface(t *testing.T) {
	var _ AccountRepository = (*PostgresAccountRepo)(nil)
}

// PostgresSessionRepoはSessionRepositoryインターフェースを満たすことを検証
func TestPostgresSessionRepo_ImplementsInterface(t *testing.T) {
	var _ SessionRepository = (*PostgresSessionRepo)(nil)
}

func TestIsUniqueViolation(t *testing.T) {
	if !isUniqueViolation(&pq.Error{Code: uniqueViolation}) {
		t.Error("expected unique violation")
	}
	if isUniqueViolation(&pq.Error{Code: "23503"}) {
		t.Error("foreign key violation is not a unique violation")
	}
	if isUniqueViolation(errors.New("other")) {
		t.Error("plain error is not a unique violation")
	}
}

// TestPostgresAccountAndSessionRepo はDB上でアカウントとセッションの一連の操作を検証する。
// TEST_DATABASE_URLが未設定の場合はスキップする。
func TestPostgresAccountAndSessionRepo(t *testing.T) {
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL が未設定のためスキップ")
	}
	db, err := database.Open(dbURL)
	if err != nil {
		t.Fatalf("接続に失敗: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		t.Skipf("テスト用データベースに接続できません（スキップ）: %v", err)
	}
	if err := database.RunMigrations(dbURL); err != nil {
		t.Fatalf("マイグレーション実行に失敗: %v", err)
	}

	ctx := context.Background()
	accounts := NewPostgresAccountRepo(db)
	sessions := NewPostgresSessionRepo(db)

	email := "repo-" + uuid.NewString() + "@example.com"
	account := &model.Account{ID: uuid.NewString(), Email: email, PasswordHash: "hash", CreatedAt: time.Now()}
	if err := accounts.Create(ctx, account); err != nil {
		t.Fatalf("Create: %v", err)
	}

	dup := &model.Account{ID: uuid.NewString(), Email: email, PasswordHash: "hash", CreatedAt: time.Now()}
	if err := accounts.Create(ctx, dup); !errors.Is(err, ErrDuplicateEmail) {
		t.Errorf("duplicate Create err = %v, want ErrDuplicateEmail", err)
	}

	found, err := accounts.FindByEmail(ctx, email)
	if err != nil || found == nil || found.ID != account.ID {
		t.Fatalf("FindByEmail = %+v, %v", found, err)
	}

	live := &model.Session{ID: uuid.NewString(), UserID: account.ID, Email: email, ExpiresAt: time.Now().Add(time.Hour), CreatedAt: time.Now()}
	expired := &model.Session{ID: uuid.NewString(), UserID: account.ID, Email: email, ExpiresAt: time.Now().Add(-time.Hour), CreatedAt: time.Now()}
	for _, s := range []*model.Session{live, expired} {
		if err := sessions.Create(ctx, s); err != nil {
			t.Fatalf("session Create: %v", err)
		}
	}

	got, err := sessions.FindByID(ctx, live.ID)
	if err != nil || got == nil || got.Email != email {
		t.Errorf("FindByID(live) = %+v, %v", got, err)
	}
	got, err = sessions.FindByID(ctx, expired.ID)
	if err != nil || got != nil {
		t.Errorf("FindByID(expired) = %+v, %v; want nil", got, err)
	}

	n, err := sessions.DeleteExpired(ctx, time.Now())
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if n < 1 {
		t.Errorf("DeleteExpired removed %d rows, want at least 1", n)
	}
	var remaining int
	if err := db.QueryRowContext(ctx, `SELECT count(*) FROM sessions WHERE id = $1`, expired.ID).Scan(&remaining); err != nil {
		t.Fatalf("count: %v", err)
	}
	if remaining != 0 {
		t.Error("expired session row should be deleted")
	}

	if err := sessions.DeleteByUserID(ctx, account.ID); err != nil {
		t.Fatalf("DeleteByUserID: %v", err)
	}
	got, _ = sessions.FindByID(ctx, live.ID)
	if got != nil {
		t.Error("session should be deleted")
	}
}
