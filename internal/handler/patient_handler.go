package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/clinicman/internal/clientstate"
	"github.com/hitoshi/clinicman/internal/middleware"
	"github.com/hitoshi/clinicman/internal/model"
	"github.com/hitoshi/clinicman/internal/patient"
)

// PatientServiceInterface は患者ハンドラーが必要とするサービスインターフェース。
type PatientServiceInterface interface {
	Register(ctx context.Context, actor *model.UserProfile, in patient.RegistrationInput) (*model.Patient, error)
	Resolve(ctx context.Context, ref string) (*model.Patient, error)
	Search(ctx context.Context, term string) ([]model.Patient, error)
	History(ctx context.Context, actor *model.UserProfile, ref string) (*patient.History, error)
}

// PatientHandler は患者登録・検索・詳細・履歴のHTTPハンドラー。
type PatientHandler struct {
	service PatientServiceInterface
	state   ClientState
}

// NewPatientHandler はPatientHandlerを生成する。
func NewPatientHandler(service PatientServiceInterface, state ClientState) *PatientHandler {
	return &PatientHandler{service: service, state: state}
}

type registrationRequest struct {
	Name    string `json:"name"`
	Age     string `json:"age"`
	Gender  string `json:"gender"`
	Contact string `json:"contact"`
	Address string `json:"address"`
}

// Register は患者を登録する。
// POST /api/patients
func (h *PatientHandler) Register(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentProfile(w, r)
	if !ok {
		return
	}
	var req registrationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := h.service.Register(r.Context(), actor, patient.RegistrationInput{
		Name:    req.Name,
		Age:     req.Age,
		Gender:  req.Gender,
		Contact: req.Contact,
		Address: req.Address,
	})
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// List は名前・ID・連絡先で患者を検索する。
// GET /api/patients?q=
func (h *PatientHandler) List(w http.ResponseWriter, r *http.Request) {
	patients, err := h.service.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, patients)
}

// Get は患者の詳細を返す。idはストアキーと認証UIDのどちらでもよい。
// GET /api/patients/{id}
func (h *PatientHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.writePatient(w, r, chi.URLParam(r, "id"))
}

// Selected は受付キューで詳細表示用に選択された患者を返す。
// GET /api/patients/selected
func (h *PatientHandler) Selected(w http.ResponseWriter, r *http.Request) {
	ref, _ := h.state.Get(r, clientstate.KeyCurrentPatientForDetails)
	h.writePatient(w, r, ref)
}

// History は患者の予約と処方を新しい順で返す。
// GET /api/patients/{id}/history
func (h *PatientHandler) History(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentProfile(w, r)
	if !ok {
		return
	}
	history, err := h.service.History(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// ViewPrescriptions は処方一覧で絞り込む患者を保持し、処方一覧へ遷移させる。
// POST /api/patients/{id}/view-prescriptions
func (h *PatientHandler) ViewPrescriptions(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.Resolve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	h.state.Set(w, clientstate.KeyPatientToViewPrescriptions, p.ID)
	writeJSON(w, http.StatusOK, locationResponse{Location: "/api/prescriptions"})
}

func (h *PatientHandler) writePatient(w http.ResponseWriter, r *http.Request, ref string) {
	p, err := h.service.Resolve(r.Context(), ref)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
