// Package prescription は処方の発行と一覧を扱う。
package prescription

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/clinicman/internal/model"
	"github.com/hitoshi/clinicman/internal/query"
	"github.com/hitoshi/clinicman/internal/repository"
	"github.com/hitoshi/clinicman/internal/security"
)

const (
	dateLayout = "2006-01-02"

	// unknownPatient は患者が見つからない処方の表示名。
	unknownPatient = "不明な患者"
)

// PatientResolver は患者をストアキーまたは認証UIDで取得する。
type PatientResolver interface {
	Resolve(ctx context.Context, ref string) (*model.Patient, error)
}

// IssueInput は処方フォームの入力。DateIssuedが空の場合は当日。
type IssueInput struct {
	DateIssued  string
	Medications string
	Notes       string
}

// Service は処方のサービス層。
type Service struct {
	prescriptions repository.PrescriptionRepository
	patients      repository.PatientRepository
	resolver      PatientResolver
	sanitizer     security.TextSanitizer
	now           func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	prescriptions repository.PrescriptionRepository,
	patients repository.PatientRepository,
	resolver PatientResolver,
	sanitizer security.TextSanitizer,
) *Service {
	return &Service{
		prescriptions: prescriptions,
		patients:      patients,
		resolver:      resolver,
		sanitizer:     sanitizer,
		now:           time.Now,
	}
}

// Issue は医師が選択中の患者に処方を発行する。
// patientRefは受付キューで選択された患者の識別子。
func (s *Service) Issue(ctx context.Context, doctor *model.UserProfile, patientRef string, in IssueInput) (*model.Prescription, error) {
	if patientRef == "" {
		return nil, model.NewSelectionMissingError()
	}

	medications := s.sanitizer.Text(in.Medications)
	if medications == "" {
		return nil, model.NewValidationError("処方内容を入力してください。")
	}
	date := strings.TrimSpace(in.DateIssued)
	if date == "" {
		date = s.now().Format(dateLayout)
	}
	if _, err := time.Parse(dateLayout, date); err != nil {
		return nil, model.NewValidationError("日付はYYYY-MM-DD形式で入力してください。")
	}

	patient, err := s.resolver.Resolve(ctx, patientRef)
	if err != nil {
		return nil, err
	}

	rx := &model.Prescription{
		PatientFirebaseKey: patient.ID,
		PatientID:          patient.UID,
		DoctorUID:          doctor.ID,
		DoctorName:         doctor.Name,
		DateIssued:         date,
		Medications:        medications,
		Notes:              s.sanitizer.Text(in.Notes),
		Timestamp:          s.now().UTC(),
	}
	if err := s.prescriptions.Create(ctx, rx); err != nil {
		return nil, fmt.Errorf("処方の発行に失敗しました: %w", model.WrapStoreError("処方", err))
	}
	rx.PatientName = patient.Name

	slog.Info("処方を発行しました",
		slog.String("prescription_id", rx.ID),
		slog.String("patient_id", patient.ID),
		slog.String("doctor_uid", doctor.ID),
	)
	return rx, nil
}

// List はactorに見える処方を返す。
// 患者ロールには認証UIDで紐付く処方に加え、本人の患者登録のストアキーで紐付く処方も見せる。
// 患者名を解決してから検索を適用するため、患者名でも検索できる。
func (s *Service) List(ctx context.Context, actor *model.UserProfile, f query.Filters) ([]model.Prescription, error) {
	all, err := s.prescriptions.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("処方一覧の取得に失敗しました: %w", model.WrapStoreError("処方", err))
	}
	if len(all) == 0 {
		return []model.Prescription{}, nil
	}

	patients, err := s.patients.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("患者一覧の取得に失敗しました: %w", model.WrapStoreError("患者", err))
	}

	var linked []string
	if actor.Role == model.RolePatient {
		linked = ownPatientKeys(patients, actor.ID)
	}

	scoped := query.ComputeVisibleLinked(all, actor.Role, actor.ID, linked, query.Filters{PatientID: f.PatientID})
	setNames(scoped, patients)
	return query.ComputeVisibleLinked(scoped, actor.Role, actor.ID, linked, f), nil
}

// ownPatientKeys は認証UIDがuidの患者登録のストアキーを返す。
func ownPatientKeys(patients []model.Patient, uid string) []string {
	if uid == "" {
		return nil
	}
	var keys []string
	for _, p := range patients {
		if p.UID == uid && p.ID != "" {
			keys = append(keys, p.ID)
		}
	}
	return keys
}

// setNames は処方ごとの患者名を設定する。
func setNames(rxs []model.Prescription, patients []model.Patient) {
	names := make(map[string]string, len(patients)*2)
	for _, p := range patients {
		names[p.ID] = p.Name
		if p.UID != "" {
			if _, ok := names[p.UID]; !ok {
				names[p.UID] = p.Name
			}
		}
	}
	for i := range rxs {
		name, ok := names[rxs[i].PatientRef()]
		if !ok {
			name = unknownPatient
		}
		rxs[i].PatientName = name
	}
}
