package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/clinicman/internal/middleware"
	"github.com/hitoshi/clinicman/internal/model"
)

// DirectoryServiceInterface は職員ディレクトリのインターフェース。
type DirectoryServiceInterface interface {
	Doctors(ctx context.Context, term string) ([]model.UserProfile, error)
}

// DirectoryHandler は医師・患者ディレクトリのHTTPハンドラー。
type DirectoryHandler struct {
	doctors  DirectoryServiceInterface
	patients PatientServiceInterface
}

// NewDirectoryHandler はDirectoryHandlerを生成する。
func NewDirectoryHandler(doctors DirectoryServiceInterface, patients PatientServiceInterface) *DirectoryHandler {
	return &DirectoryHandler{doctors: doctors, patients: patients}
}

// Doctors は医師を名前順で返す。
// GET /api/directory/doctors?q=
func (h *DirectoryHandler) Doctors(w http.ResponseWriter, r *http.Request) {
	doctors, err := h.doctors.Doctors(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doctors)
}

// Patients は患者を名前順で返す。
// GET /api/directory/patients?q=
func (h *DirectoryHandler) Patients(w http.ResponseWriter, r *http.Request) {
	patients, err := h.patients.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, patients)
}
