// Package patient は患者登録・詳細・検索・受診履歴を扱う。
package patient

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"

	"github.com/hitoshi/clinicman/internal/model"
	"github.com/hitoshi/clinicman/internal/query"
	"github.com/hitoshi/clinicman/internal/repository"
	"github.com/hitoshi/clinicman/internal/security"
)

// StatusWaiting は登録直後の患者ステータス。
const StatusWaiting = "Waiting"

const (
	tokenPrefix  = "TKN-"
	tokenLength  = 6
	tokenLetters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// RegistrationInput は患者登録フォームの入力。
type RegistrationInput struct {
	Name    string
	Age     string
	Gender  string
	Contact string
	Address string
}

// History は患者の受診履歴。どちらも新しい順。
type History struct {
	Patient       *model.Patient       `json:"patient"`
	Appointments  []model.Appointment  `json:"appointments"`
	Prescriptions []model.Prescription `json:"prescriptions"`
}

// Service は患者のサービス層。
type Service struct {
	patients      repository.PatientRepository
	appointments  repository.AppointmentRepository
	prescriptions repository.PrescriptionRepository
	profiles      repository.ProfileRepository
	sanitizer     security.TextSanitizer
	token         func() string
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	patients repository.PatientRepository,
	appointments repository.AppointmentRepository,
	prescriptions repository.PrescriptionRepository,
	profiles repository.ProfileRepository,
	sanitizer security.TextSanitizer,
) *Service {
	return &Service{
		patients:      patients,
		appointments:  appointments,
		prescriptions: prescriptions,
		profiles:      profiles,
		sanitizer:     sanitizer,
		token:         newToken,
	}
}

// Register は患者を登録する。
// 患者本人の登録は認証UIDをキーとし、名前と連絡先はプロフィールの値に固定する。
// 職員による登録は新しいキーを割り当て、連絡先とメールアドレスが一致するアカウントがあればUIDを紐付ける。
func (s *Service) Register(ctx context.Context, actor *model.UserProfile, in RegistrationInput) (*model.Patient, error) {
	p := &model.Patient{
		Name:    s.sanitizer.Text(in.Name),
		Age:     strings.TrimSpace(in.Age),
		Gender:  s.sanitizer.Text(in.Gender),
		Contact: s.sanitizer.Text(in.Contact),
		Address: s.sanitizer.Text(in.Address),
		Token:   s.token(),
		Status:  StatusWaiting,
	}

	if actor.Role == model.RolePatient {
		p.ID = actor.ID
		p.UID = actor.ID
		p.Name = actor.Name
		p.Contact = actor.Email
		p.Email = actor.Email
	}

	if err := validateRegistration(p); err != nil {
		return nil, err
	}

	if actor.Role != model.RolePatient {
		account, err := s.accountByEmail(ctx, p.Contact)
		if err != nil {
			return nil, err
		}
		if account != nil {
			p.UID = account.ID
			p.Email = account.Email
		}
	}

	if err := s.patients.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("患者の登録に失敗しました: %w", model.WrapStoreError("患者", err))
	}

	slog.Info("患者を登録しました",
		slog.String("patient_id", p.ID),
		slog.Bool("linked", p.UID != ""),
		slog.String("registered_by", actor.ID),
	)
	return p, nil
}

func validateRegistration(p *model.Patient) error {
	if p.Name == "" || p.Age == "" || p.Gender == "" || p.Contact == "" {
		return model.NewValidationError("名前・年齢・性別・連絡先を入力してください。")
	}
	if age, err := strconv.Atoi(p.Age); err != nil || age < 0 || age > 150 {
		return model.NewValidationError("年齢は0から150の数値で入力してください。")
	}
	return nil
}

func (s *Service) accountByEmail(ctx context.Context, email string) (*model.UserProfile, error) {
	profiles, err := s.profiles.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("プロフィール一覧の取得に失敗しました: %w", model.WrapStoreError("プロフィール", err))
	}
	for i := range profiles {
		if profiles[i].Role == model.RolePatient && strings.EqualFold(profiles[i].Email, email) {
			return &profiles[i], nil
		}
	}
	return nil, nil
}

// Resolve は患者をストアキーまたは認証UIDで取得する。
func (s *Service) Resolve(ctx context.Context, ref string) (*model.Patient, error) {
	if ref == "" {
		return nil, model.NewSelectionMissingError()
	}
	p, err := s.patients.FindByID(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("患者情報の取得に失敗しました: %w", model.WrapStoreError("患者", err))
	}
	if p != nil {
		return p, nil
	}

	all, err := s.patients.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("患者一覧の取得に失敗しました: %w", model.WrapStoreError("患者", err))
	}
	for i := range all {
		if all[i].UID == ref {
			return &all[i], nil
		}
	}
	return nil, model.NewPatientNotFoundError(ref)
}

// Search は名前・キー・連絡先でtermに一致する患者を名前順で返す。
func (s *Service) Search(ctx context.Context, term string) ([]model.Patient, error) {
	all, err := s.patients.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("患者一覧の取得に失敗しました: %w", model.WrapStoreError("患者", err))
	}
	return query.SearchNamed(all, term), nil
}

// History は患者の予約と処方を新しい順で返す。
// 記録はストアキーと認証UIDのどちらで患者を指していても対象になる。
// 患者ロールは本人の履歴のみ参照できる。
func (s *Service) History(ctx context.Context, actor *model.UserProfile, ref string) (*History, error) {
	p, err := s.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	if actor.Role == model.RolePatient && !query.BelongsTo(p, actor.ID) {
		return nil, model.NewRoleForbiddenError(nil)
	}

	appointments, err := s.appointments.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("予約一覧の取得に失敗しました: %w", model.WrapStoreError("予約", err))
	}
	prescriptions, err := s.prescriptions.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("処方一覧の取得に失敗しました: %w", model.WrapStoreError("処方", err))
	}

	h := &History{
		Patient:       p,
		Appointments:  belongingTo(appointments, p),
		Prescriptions: belongingTo(prescriptions, p),
	}
	slices.SortStableFunc(h.Appointments, func(a, b model.Appointment) int {
		return cmp.Or(cmp.Compare(b.Date, a.Date), cmp.Compare(b.Time, a.Time))
	})
	slices.SortStableFunc(h.Prescriptions, func(a, b model.Prescription) int {
		return cmp.Or(cmp.Compare(b.DateIssued, a.DateIssued), b.Timestamp.Compare(a.Timestamp))
	})
	for i := range h.Prescriptions {
		h.Prescriptions[i].PatientName = p.Name
	}
	return h, nil
}

func belongingTo[T query.Record](records []T, p *model.Patient) []T {
	out := make([]T, 0)
	for _, r := range records {
		if query.BelongsTo(r, p.ID, p.UID) {
			out = append(out, r)
		}
	}
	return out
}

// newToken は受付番号"TKN-"と大文字6文字を生成する。
func newToken() string {
	b := make([]byte, tokenLength)
	for i := range b {
		b[i] = tokenLetters[rand.IntN(len(tokenLetters))]
	}
	return tokenPrefix + string(b)
}
