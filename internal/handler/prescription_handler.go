package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/clinicman/internal/clientstate"
	"github.com/hitoshi/clinicman/internal/middleware"
	"github.com/hitoshi/clinicman/internal/model"
	"github.com/hitoshi/clinicman/internal/prescription"
	"github.com/hitoshi/clinicman/internal/query"
)

// PrescriptionServiceInterface は処方ハンドラーが必要とするサービスインターフェース。
type PrescriptionServiceInterface interface {
	Issue(ctx context.Context, doctor *model.UserProfile, patientRef string, in prescription.IssueInput) (*model.Prescription, error)
	List(ctx context.Context, actor *model.UserProfile, f query.Filters) ([]model.Prescription, error)
}

// PrescriptionHandler は処方の発行と一覧のHTTPハンドラー。
type PrescriptionHandler struct {
	service PrescriptionServiceInterface
	state   ClientState
}

// NewPrescriptionHandler はPrescriptionHandlerを生成する。
func NewPrescriptionHandler(service PrescriptionServiceInterface, state ClientState) *PrescriptionHandler {
	return &PrescriptionHandler{service: service, state: state}
}

type issueRequest struct {
	DateIssued  string `json:"dateIssued"`
	Medications string `json:"medications"`
	Notes       string `json:"notes"`
}

// List はロールに応じた処方一覧を返す。
// patientが指定されない場合は患者詳細から引き継いだ患者で絞り込み、引き継ぎを消去する。
// GET /api/prescriptions?q=&patient=
func (h *PrescriptionHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentProfile(w, r)
	if !ok {
		return
	}
	in := query.FilterInputFromValues(r.URL.Query())
	if in.Patient == "" {
		if ref, ok := h.state.Pop(w, r, clientstate.KeyPatientToViewPrescriptions); ok {
			in.Patient = ref
		}
	}
	prescriptions, err := h.service.List(r.Context(), actor, in.Filters())
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, prescriptions)
}

// Issue は受付キューで選択された患者に処方を発行し、選択を消去する。
// POST /api/prescriptions
func (h *PrescriptionHandler) Issue(w http.ResponseWriter, r *http.Request) {
	doctor, ok := currentProfile(w, r)
	if !ok {
		return
	}
	var req issueRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ref, _ := h.state.Get(r, clientstate.KeyCurrentPatientForPrescription)
	rx, err := h.service.Issue(r.Context(), doctor, ref, prescription.IssueInput{
		DateIssued:  req.DateIssued,
		Medications: req.Medications,
		Notes:       req.Notes,
	})
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	h.state.Remove(w, clientstate.KeyCurrentPatientForPrescription)
	writeJSON(w, http.StatusCreated, rx)
}
