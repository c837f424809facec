package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/clinicman/internal/appointment"
	"github.com/hitoshi/clinicman/internal/clientstate"
	"github.com/hitoshi/clinicman/internal/middleware"
	"github.com/hitoshi/clinicman/internal/model"
	"github.com/hitoshi/clinicman/internal/query"
)

// AppointmentServiceInterface は予約ハンドラーが必要とするサービスインターフェース。
type AppointmentServiceInterface interface {
	Book(ctx context.Context, actor *model.UserProfile, in appointment.BookingInput) (*model.Appointment, error)
	List(ctx context.Context, actor *model.UserProfile, f query.Filters) ([]model.Appointment, error)
	Queue(ctx context.Context, actor *model.UserProfile, f query.Filters) ([]appointment.QueueEntry, error)
	Transition(ctx context.Context, actor *model.UserProfile, id string, action appointment.Action) (*model.Appointment, error)
	SelectPatient(ctx context.Context, actor *model.UserProfile, id string) (string, error)
}

// selectionKeys はキューでの患者選択先と、それを保持するクライアント状態のキー。
var selectionKeys = map[string]string{
	"details":      clientstate.KeyCurrentPatientForDetails,
	"prescription": clientstate.KeyCurrentPatientForPrescription,
}

// AppointmentHandler は予約一覧・予約作成・受付キューのHTTPハンドラー。
type AppointmentHandler struct {
	service AppointmentServiceInterface
	state   ClientState
}

// NewAppointmentHandler はAppointmentHandlerを生成する。
func NewAppointmentHandler(service AppointmentServiceInterface, state ClientState) *AppointmentHandler {
	return &AppointmentHandler{service: service, state: state}
}

type bookingRequest struct {
	PatientName string `json:"patientName"`
	DoctorUID   string `json:"doctorUid"`
	Date        string `json:"date"`
	Time        string `json:"time"`
	Reason      string `json:"reason"`
}

type selectionResponse struct {
	PatientID string `json:"patientId"`
}

// List はロールとフィルタに応じた予約一覧を返す。
// GET /api/appointments?date=&doctor=&status=&q=
func (h *AppointmentHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentProfile(w, r)
	if !ok {
		return
	}
	f := query.FilterInputFromValues(r.URL.Query()).Filters()
	appointments, err := h.service.List(r.Context(), actor, f)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appointments)
}

// Book は予約を作成する。
// POST /api/appointments
func (h *AppointmentHandler) Book(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentProfile(w, r)
	if !ok {
		return
	}
	var req bookingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	a, err := h.service.Book(r.Context(), actor, appointment.BookingInput{
		PatientName: req.PatientName,
		DoctorUID:   req.DoctorUID,
		Date:        req.Date,
		Time:        req.Time,
		Reason:      req.Reason,
	})
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// Act は予約一覧からの操作（確定・完了・取消）を実行する。
// POST /api/appointments/{id}/{action}
func (h *AppointmentHandler) Act(w http.ResponseWriter, r *http.Request) {
	action, ok := appointment.AppointmentAction(chi.URLParam(r, "action"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	h.transition(w, r, action)
}

// Queue は受付キューを返す。statusはキュー状態で指定する。
// GET /api/queue?date=&status=&q=
func (h *AppointmentHandler) Queue(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentProfile(w, r)
	if !ok {
		return
	}
	f := query.FilterInputFromValues(r.URL.Query()).QueueFilters()
	entries, err := h.service.Queue(r.Context(), actor, f)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// QueueAct は受付キューからの操作（診察開始・診察終了）を実行する。
// POST /api/queue/{id}/{action}
func (h *AppointmentHandler) QueueAct(w http.ResponseWriter, r *http.Request) {
	action, ok := appointment.QueueAction(chi.URLParam(r, "action"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	h.transition(w, r, action)
}

// Select はキューで選択した患者を詳細表示または処方の対象として保持する。
// POST /api/queue/{id}/select/{target}
func (h *AppointmentHandler) Select(w http.ResponseWriter, r *http.Request) {
	key, ok := selectionKeys[chi.URLParam(r, "target")]
	if !ok {
		http.NotFound(w, r)
		return
	}
	actor, ok := currentProfile(w, r)
	if !ok {
		return
	}
	ref, err := h.service.SelectPatient(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	h.state.Set(w, key, ref)
	writeJSON(w, http.StatusOK, selectionResponse{PatientID: ref})
}

func (h *AppointmentHandler) transition(w http.ResponseWriter, r *http.Request, action appointment.Action) {
	actor, ok := currentProfile(w, r)
	if !ok {
		return
	}
	a, err := h.service.Transition(r.Context(), actor, chi.URLParam(r, "id"), action)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}
