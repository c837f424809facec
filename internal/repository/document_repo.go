package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/clinicman/internal/docstore"
	"github.com/hitoshi/clinicman/internal/model"
)

// decodeSnapshot はスナップショットの各ドキュメントをTにデコードし、キーをsetIDで設定する。
// 解析できないドキュメントは警告を記録して読み飛ばす。結果はキー昇順。
func decodeSnapshot[T any](collection string, snap docstore.Snapshot, setID func(*T, string)) []T {
	out := make([]T, 0, len(snap))
	for _, key := range snap.Keys() {
		var v T
		if err := json.Unmarshal(snap[key], &v); err != nil {
			slog.Warn("skipping malformed document",
				slog.String("collection", collection),
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
			continue
		}
		setID(&v, key)
		out = append(out, v)
	}
	return out
}

// getDocument はcollection/keyのドキュメントを取得してデコードする。見つからない場合はnilを返す。
func getDocument[T any](ctx context.Context, store docstore.Store, collection, key string, setID func(*T, string)) (*T, error) {
	raw, ok, err := store.Get(ctx, docstore.Path(collection, key))
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s: %w", collection, key, err)
	}
	if !ok {
		return nil, nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("failed to decode %s/%s: %w", collection, key, err)
	}
	setID(&v, key)
	return &v, nil
}

// listDocuments はコレクション全体を取得してデコードする。
func listDocuments[T any](ctx context.Context, store docstore.Store, collection string, setID func(*T, string)) ([]T, error) {
	snap, err := store.List(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", collection, err)
	}
	return decodeSnapshot(collection, snap, setID), nil
}

// DocProfileRepo はドキュメントストアのusersコレクションを使うプロフィールリポジトリ。
type DocProfileRepo struct {
	store docstore.Store
}

// NewDocProfileRepo はDocProfileRepoを生成する。
func NewDocProfileRepo(store docstore.Store) *DocProfileRepo {
	return &DocProfileRepo{store: store}
}

func setProfileID(p *model.UserProfile, key string) { p.ID = key }

func (r *DocProfileRepo) FindByID(ctx context.Context, uid string) (*model.UserProfile, error) {
	return getDocument(ctx, r.store, CollectionUsers, uid, setProfileID)
}

func (r *DocProfileRepo) List(ctx context.Context) ([]model.UserProfile, error) {
	return listDocuments(ctx, r.store, CollectionUsers, setProfileID)
}

func (r *DocProfileRepo) Save(ctx context.Context, profile *model.UserProfile) error {
	if profile.ID == "" {
		return fmt.Errorf("profile uid is required")
	}
	if err := r.store.Set(ctx, docstore.Path(CollectionUsers, profile.ID), profile); err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

var _ ProfileRepository = (*DocProfileRepo)(nil)

// DocPatientRepo はpatientsコレクションのリポジトリ。
type DocPatientRepo struct {
	store docstore.Store
}

// NewDocPatientRepo はDocPatientRepoを生成する。
func NewDocPatientRepo(store docstore.Store) *DocPatientRepo {
	return &DocPatientRepo{store: store}
}

func setPatientID(p *model.Patient, key string) { p.ID = key }

func (r *DocPatientRepo) FindByID(ctx context.Context, id string) (*model.Patient, error) {
	return getDocument(ctx, r.store, CollectionPatients, id, setPatientID)
}

func (r *DocPatientRepo) List(ctx context.Context) ([]model.Patient, error) {
	return listDocuments(ctx, r.store, CollectionPatients, setPatientID)
}

func (r *DocPatientRepo) Create(ctx context.Context, patient *model.Patient) error {
	if patient.ID == "" {
		patient.ID = r.store.NewKey(CollectionPatients)
	}
	if patient.RegistrationTimestamp.IsZero() {
		patient.RegistrationTimestamp = time.Now().UTC()
	}
	if err := r.store.Set(ctx, docstore.Path(CollectionPatients, patient.ID), patient); err != nil {
		return fmt.Errorf("failed to create patient: %w", err)
	}
	return nil
}

var _ PatientRepository = (*DocPatientRepo)(nil)

// DocAppointmentRepo はappointmentsコレクションのリポジトリ。
type DocAppointmentRepo struct {
	store docstore.Store
}

// NewDocAppointmentRepo はDocAppointmentRepoを生成する。
func NewDocAppointmentRepo(store docstore.Store) *DocAppointmentRepo {
	return &DocAppointmentRepo{store: store}
}

func setAppointmentID(a *model.Appointment, key string) { a.ID = key }

func (r *DocAppointmentRepo) FindByID(ctx context.Context, id string) (*model.Appointment, error) {
	return getDocument(ctx, r.store, CollectionAppointments, id, setAppointmentID)
}

func (r *DocAppointmentRepo) List(ctx context.Context) ([]model.Appointment, error) {
	return listDocuments(ctx, r.store, CollectionAppointments, setAppointmentID)
}

func (r *DocAppointmentRepo) Create(ctx context.Context, appointment *model.Appointment) error {
	appointment.ID = r.store.NewKey(CollectionAppointments)
	if appointment.Timestamp.IsZero() {
		appointment.Timestamp = time.Now().UTC()
	}
	if err := r.store.Set(ctx, docstore.Path(CollectionAppointments, appointment.ID), appointment); err != nil {
		return fmt.Errorf("failed to create appointment: %w", err)
	}
	return nil
}

func (r *DocAppointmentRepo) UpdateStatus(ctx context.Context, id, status string) error {
	if err := r.store.Patch(ctx, docstore.Path(CollectionAppointments, id), map[string]any{"status": status}); err != nil {
		return fmt.Errorf("failed to update appointment status: %w", err)
	}
	return nil
}

func (r *DocAppointmentRepo) Subscribe(ctx context.Context, fn func([]model.Appointment, error)) (func(), error) {
	return r.store.Subscribe(ctx, CollectionAppointments, func(snap docstore.Snapshot, err error) {
		if err != nil {
			fn(nil, err)
			return
		}
		fn(decodeSnapshot(CollectionAppointments, snap, setAppointmentID), nil)
	})
}

var _ AppointmentRepository = (*DocAppointmentRepo)(nil)

// DocPrescriptionRepo はprescriptionsコレクションのリポジトリ。
type DocPrescriptionRepo struct {
	store docstore.Store
}

// NewDocPrescriptionRepo はDocPrescriptionRepoを生成する。
func NewDocPrescriptionRepo(store docstore.Store) *DocPrescriptionRepo {
	return &DocPrescriptionRepo{store: store}
}

func setPrescriptionID(p *model.Prescription, key string) { p.ID = key }

func (r *DocPrescriptionRepo) List(ctx context.Context) ([]model.Prescription, error) {
	return listDocuments(ctx, r.store, CollectionPrescriptions, setPrescriptionID)
}

func (r *DocPrescriptionRepo) Create(ctx context.Context, prescription *model.Prescription) error {
	prescription.ID = r.store.NewKey(CollectionPrescriptions)
	if prescription.Timestamp.IsZero() {
		prescription.Timestamp = time.Now().UTC()
	}
	// 患者名は表示用なので保存しない
	doc := *prescription
	doc.PatientName = ""
	if err := r.store.Set(ctx, docstore.Path(CollectionPrescriptions, prescription.ID), doc); err != nil {
		return fmt.Errorf("failed to create prescription: %w", err)
	}
	return nil
}

var _ PrescriptionRepository = (*DocPrescriptionRepo)(nil)
