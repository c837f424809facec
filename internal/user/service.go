// Package user はプロフィールと職員・患者ディレクトリのドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/clinicman/internal/model"
	"github.com/hitoshi/clinicman/internal/query"
	"github.com/hitoshi/clinicman/internal/repository"
	"github.com/hitoshi/clinicman/internal/security"
)

// SignupInput は新規登録フォームの入力。
type SignupInput struct {
	Name  string
	Email string
	Role  string
}

// Service はプロフィール管理のサービス層。
type Service struct {
	profiles  repository.ProfileRepository
	sanitizer security.TextSanitizer
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(profiles repository.ProfileRepository, sanitizer security.TextSanitizer) *Service {
	return &Service{
		profiles:  profiles,
		sanitizer: sanitizer,
		now:       time.Now,
	}
}

// ValidateSignup はアカウント作成前に名前とロールを検証する。
func (s *Service) ValidateSignup(in SignupInput) (model.Role, error) {
	if s.sanitizer.Text(in.Name) == "" {
		return "", model.NewValidationError("名前を入力してください。")
	}
	role, ok := model.ParseRole(in.Role)
	if !ok {
		return "", model.NewValidationError("ロールを選択してください。")
	}
	return role, nil
}

// CreateProfile は認証アカウント作成直後にusers/{uid}へプロフィールを書き込む。
func (s *Service) CreateProfile(ctx context.Context, uid string, in SignupInput) (*model.UserProfile, error) {
	role, err := s.ValidateSignup(in)
	if err != nil {
		return nil, err
	}

	profile := &model.UserProfile{
		ID:        uid,
		Name:      s.sanitizer.Text(in.Name),
		Role:      role,
		Email:     in.Email,
		CreatedAt: s.now().UTC(),
	}
	if err := s.profiles.Save(ctx, profile); err != nil {
		return nil, fmt.Errorf("プロフィールの保存に失敗しました: %w", model.WrapStoreError("プロフィール", err))
	}

	slog.Info("プロフィールを作成しました",
		slog.String("user_id", uid),
		slog.String("role", string(role)),
	)
	return profile, nil
}

// Profile はプロフィールを返す。存在しない場合はPROFILE_NOT_FOUND。
func (s *Service) Profile(ctx context.Context, uid string) (*model.UserProfile, error) {
	profile, err := s.profiles.FindByID(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("プロフィールの取得に失敗しました: %w", model.WrapStoreError("プロフィール", err))
	}
	if profile == nil {
		return nil, model.NewProfileNotFoundError()
	}
	return profile, nil
}

// CheckLoginRole はロール指定ログインで登録ロールと一致するかを確認する。
// requestedが空の場合はプロフィールの存在のみ確認する。
func (s *Service) CheckLoginRole(ctx context.Context, uid, requested string) (*model.UserProfile, error) {
	profile, err := s.Profile(ctx, uid)
	if err != nil {
		return nil, err
	}
	if requested == "" {
		return profile, nil
	}
	role, ok := model.ParseRole(requested)
	if !ok || role != profile.Role {
		return nil, model.NewLoginRoleMismatchError(profile.Role)
	}
	return profile, nil
}

// Doctors は医師のプロフィールを名前順で返す。termは名前・メール・専門分野に対する部分一致。
func (s *Service) Doctors(ctx context.Context, term string) ([]model.UserProfile, error) {
	return s.byRole(ctx, model.RoleDoctor, term)
}

func (s *Service) byRole(ctx context.Context, role model.Role, term string) ([]model.UserProfile, error) {
	profiles, err := s.profiles.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("プロフィール一覧の取得に失敗しました: %w", model.WrapStoreError("ユーザー", err))
	}
	matched := make([]model.UserProfile, 0, len(profiles))
	for _, p := range profiles {
		if p.Role == role {
			matched = append(matched, p)
		}
	}
	return query.SearchNamed(matched, term), nil
}
