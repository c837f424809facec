// Package appointment は予約の作成・一覧・受付キュー・ステータス遷移を扱う。
package appointment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/hitoshi/clinicman/internal/model"
	"github.com/hitoshi/clinicman/internal/query"
	"github.com/hitoshi/clinicman/internal/repository"
	"github.com/hitoshi/clinicman/internal/security"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

// BookingInput は予約フォームの入力。
// 患者本人が予約する場合PatientNameは無視される。
type BookingInput struct {
	PatientName string
	DoctorUID   string
	Date        string
	Time        string
	Reason      string
}

// QueueEntry は受付キューの1行。
type QueueEntry struct {
	model.Appointment
	QueueStatus model.QueueStatus `json:"queueStatus"`
}

// UnmarshalJSON は埋め込みのAppointment.UnmarshalJSONに加えてqueueStatusを読み込む。
func (e *QueueEntry) UnmarshalJSON(data []byte) error {
	if err := e.Appointment.UnmarshalJSON(data); err != nil {
		return err
	}
	var extra struct {
		QueueStatus model.QueueStatus `json:"queueStatus"`
	}
	if err := json.Unmarshal(data, &extra); err != nil {
		return err
	}
	e.QueueStatus = extra.QueueStatus
	return nil
}

// Service は予約のサービス層。
type Service struct {
	appointments repository.AppointmentRepository
	patients     repository.PatientRepository
	profiles     repository.ProfileRepository
	sanitizer    security.TextSanitizer
	now          func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	appointments repository.AppointmentRepository,
	patients repository.PatientRepository,
	profiles repository.ProfileRepository,
	sanitizer security.TextSanitizer,
) *Service {
	return &Service{
		appointments: appointments,
		patients:     patients,
		profiles:     profiles,
		sanitizer:    sanitizer,
		now:          time.Now,
	}
}

// Book は予約を作成する。
// 患者本人の予約は本人のUIDと名前で、職員の予約は患者名から認証UIDを解決して登録する。
func (s *Service) Book(ctx context.Context, actor *model.UserProfile, in BookingInput) (*model.Appointment, error) {
	in.PatientName = s.sanitizer.Text(in.PatientName)
	in.Reason = s.sanitizer.Text(in.Reason)
	in.DoctorUID = strings.TrimSpace(in.DoctorUID)
	in.Date = strings.TrimSpace(in.Date)
	in.Time = strings.TrimSpace(in.Time)

	if err := s.validateBooking(actor, in); err != nil {
		return nil, err
	}

	patientUID, patientName, err := s.bookingPatient(ctx, actor, in.PatientName)
	if err != nil {
		return nil, err
	}

	doctor, err := s.profiles.FindByID(ctx, in.DoctorUID)
	if err != nil {
		return nil, fmt.Errorf("医師情報の取得に失敗しました: %w", model.WrapStoreError("医師", err))
	}
	if doctor == nil || doctor.Role != model.RoleDoctor {
		return nil, model.NewDoctorNotFoundError(in.DoctorUID)
	}

	a := &model.Appointment{
		PatientName: patientName,
		PatientID:   patientUID,
		PatientUID:  patientUID,
		DoctorUID:   doctor.ID,
		DoctorName:  doctor.Name,
		Date:        in.Date,
		Time:        in.Time,
		Reason:      in.Reason,
		Status:      model.StatusScheduled,
		Timestamp:   s.now().UTC(),
	}
	if err := s.appointments.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("予約の作成に失敗しました: %w", model.WrapStoreError("予約", err))
	}

	slog.Info("予約を作成しました",
		slog.String("appointment_id", a.ID),
		slog.String("doctor_uid", a.DoctorUID),
		slog.String("booked_by", actor.ID),
	)
	return a, nil
}

func (s *Service) validateBooking(actor *model.UserProfile, in BookingInput) error {
	if actor.Role != model.RolePatient && in.PatientName == "" {
		return model.NewValidationError("患者名を入力してください。")
	}
	if in.DoctorUID == "" || in.Date == "" || in.Time == "" || in.Reason == "" {
		return model.NewValidationError("すべての項目を入力してください。")
	}
	date, err := time.Parse(dateLayout, in.Date)
	if err != nil {
		return model.NewValidationError("日付はYYYY-MM-DD形式で入力してください。")
	}
	if _, err := time.Parse(timeLayout, in.Time); err != nil {
		return model.NewValidationError("時刻はHH:MM形式で入力してください。")
	}
	today, _ := time.Parse(dateLayout, s.now().Format(dateLayout))
	if date.Before(today) {
		return model.NewValidationError("過去の日付は予約できません。")
	}
	return nil
}

// bookingPatient は予約対象の患者UIDと名前を返す。
// 職員の予約では認証UIDと紐付いた患者登録のうち名前が完全一致するものを使う。
func (s *Service) bookingPatient(ctx context.Context, actor *model.UserProfile, name string) (string, string, error) {
	if actor.Role == model.RolePatient {
		return actor.ID, actor.Name, nil
	}

	patients, err := s.patients.List(ctx)
	if err != nil {
		return "", "", fmt.Errorf("患者一覧の取得に失敗しました: %w", model.WrapStoreError("患者", err))
	}
	for _, p := range patients {
		if p.UID != "" && p.Name == name {
			return p.UID, p.Name, nil
		}
	}
	return "", "", model.NewPatientNotFoundError(name)
}

// List はactorに見える予約をフィルタ適用後に日付・時刻順で返す。
func (s *Service) List(ctx context.Context, actor *model.UserProfile, f query.Filters) ([]model.Appointment, error) {
	all, err := s.appointments.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("予約一覧の取得に失敗しました: %w", model.WrapStoreError("予約", err))
	}
	return query.ComputeVisible(all, actor.Role, actor.ID, f), nil
}

// Queue は受付キューを返す。fのQueueStatusでキュー状態を絞り込む。
func (s *Service) Queue(ctx context.Context, actor *model.UserProfile, f query.Filters) ([]QueueEntry, error) {
	visible, err := s.List(ctx, actor, f)
	if err != nil {
		return nil, err
	}
	return QueueEntries(visible), nil
}

// QueueEntries は予約にキュー状態を付与する。
func QueueEntries(appointments []model.Appointment) []QueueEntry {
	entries := make([]QueueEntry, 0, len(appointments))
	for _, a := range appointments {
		entries = append(entries, QueueEntry{Appointment: a, QueueStatus: a.QueueStatus()})
	}
	return entries
}

// Transition はactionに従って予約のステータスを変更する。
// 管理者・受付と、その予約の担当医のみ実行できる。
func (s *Service) Transition(ctx context.Context, actor *model.UserProfile, id string, action Action) (*model.Appointment, error) {
	rule, ok := transitions[action]
	if !ok {
		return nil, model.NewValidationError(fmt.Sprintf("不明な操作です: %s", action))
	}

	a, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canManage(actor, a) {
		return nil, model.NewRoleForbiddenError([]string{string(model.RoleAdmin), string(model.RoleReceptionist), "担当医"})
	}
	if !slices.Contains(rule.from, model.NormalizeStatus(a.Status)) {
		return nil, model.NewInvalidTransitionError(a.Status, rule.to)
	}

	if err := s.appointments.UpdateStatus(ctx, a.ID, rule.to); err != nil {
		return nil, fmt.Errorf("予約ステータスの更新に失敗しました: %w", model.WrapStoreError("予約", err))
	}

	slog.Info("予約ステータスを変更しました",
		slog.String("appointment_id", a.ID),
		slog.String("from", a.Status),
		slog.String("to", rule.to),
		slog.String("actor_id", actor.ID),
	)
	a.Status = rule.to
	return a, nil
}

// SelectPatient はキューで選択した予約の患者識別子を返す。
// actorから見えない予約はAPPOINTMENT_NOT_FOUNDとして扱う。
func (s *Service) SelectPatient(ctx context.Context, actor *model.UserProfile, id string) (string, error) {
	a, err := s.find(ctx, id)
	if err != nil {
		return "", err
	}
	if len(query.ComputeVisible([]model.Appointment{*a}, actor.Role, actor.ID, query.Filters{})) == 0 {
		return "", model.NewAppointmentNotFoundError(id)
	}
	ref := a.PatientID
	if ref == "" {
		ref = a.PatientUID
	}
	if ref == "" {
		return "", model.NewPatientNotFoundError(a.PatientName)
	}
	return ref, nil
}

func (s *Service) find(ctx context.Context, id string) (*model.Appointment, error) {
	a, err := s.appointments.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("予約の取得に失敗しました: %w", model.WrapStoreError("予約", err))
	}
	if a == nil {
		return nil, model.NewAppointmentNotFoundError(id)
	}
	return a, nil
}

func canManage(actor *model.UserProfile, a *model.Appointment) bool {
	switch actor.Role {
	case model.RoleAdmin, model.RoleReceptionist:
		return true
	case model.RoleDoctor:
		return actor.ID != "" && a.DoctorUID == actor.ID
	default:
		return false
	}
}
