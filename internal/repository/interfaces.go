// Package repository はデータ永続化のインターフェースを定義する。
// 資格情報とセッションはSQLテーブルに、プロフィールと診療記録はドキュメントストアに保存する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/clinicman/internal/model"
)

// ErrDuplicateEmail はメールアドレスが既に登録されている場合のエラー。
var ErrDuplicateEmail = errors.New("repository: email already registered")

// ドキュメントストアのコレクション名
const (
	CollectionUsers         = "users"
	CollectionPatients      = "patients"
	CollectionAppointments  = "appointments"
	CollectionPrescriptions = "prescriptions"
)

// AccountRepository は認証用アカウントの永続化インターフェース。
type AccountRepository interface {
	// Create はアカウントを作成する。メールアドレス重複時はErrDuplicateEmailを返す。
	Create(ctx context.Context, account *model.Account) error
	// FindByEmail はメールアドレス（大文字小文字を区別しない）で検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.Account, error)
	// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Account, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// ProfileRepository はusersコレクションのプロフィールを扱う。
type ProfileRepository interface {
	// FindByID はUIDでプロフィールを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, uid string) (*model.UserProfile, error)
	// List は全プロフィールを返す。
	List(ctx context.Context) ([]model.UserProfile, error)
	// Save はプロフィールをusers/{uid}に書き込む。
	Save(ctx context.Context, profile *model.UserProfile) error
}

// PatientRepository はpatientsコレクションを扱う。
type PatientRepository interface {
	// FindByID はストアキーで患者を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Patient, error)
	// List は全患者を返す。
	List(ctx context.Context) ([]model.Patient, error)
	// Create は患者を登録する。IDが空の場合は新しいキーを割り当てる。
	Create(ctx context.Context, patient *model.Patient) error
}

// AppointmentRepository はappointmentsコレクションを扱う。
type AppointmentRepository interface {
	// FindByID は予約を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Appointment, error)
	// List は全予約を返す。
	List(ctx context.Context) ([]model.Appointment, error)
	// Create は新しいキーで予約を作成し、IDを設定する。
	Create(ctx context.Context, appointment *model.Appointment) error
	// UpdateStatus は予約のステータスのみを更新する。
	UpdateStatus(ctx context.Context, id, status string) error
	// Subscribe は予約一覧を購読する。fnは直ちに呼ばれ、以後は変更のたびに呼ばれる。
	Subscribe(ctx context.Context, fn func([]model.Appointment, error)) (func(), error)
}

// PrescriptionRepository はprescriptionsコレクションを扱う。
type PrescriptionRepository interface {
	// List は全処方を返す。
	List(ctx context.Context) ([]model.Prescription, error)
	// Create は新しいキーで処方を作成し、IDを設定する。
	Create(ctx context.Context, prescription *model.Prescription) error
}
