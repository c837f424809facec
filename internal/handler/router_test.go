package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/clinicman/internal/auth"
	"github.com/hitoshi/clinicman/internal/clientstate"
	"github.com/hitoshi/clinicman/internal/guard"
	"github.com/hitoshi/clinicman/internal/middleware"
	"github.com/hitoshi/clinicman/internal/model"
)

const (
	testCSRFToken = "test-csrf-token"
	testLoginPath = "/login"
	testHomePath  = "/api/appointments"
)

// routerSessions はセッションIDとプロフィールの対応を保持するルーターテスト用のスタブ。
// セッションIDはロール名と同じにする。
type routerSessions struct {
	profiles map[string]*model.UserProfile
}

func newRouterSessions() *routerSessions {
	s := &routerSessions{profiles: map[string]*model.UserProfile{}}
	for _, p := range []*model.UserProfile{testAdmin, testDoctor, testReceptionist, testPatient} {
		s.profiles[p.ID] = p
	}
	return s
}

func (s *routerSessions) CurrentSession(ctx context.Context, sessionID string) (*model.Session, error) {
	for _, p := range s.profiles {
		if string(p.Role) == sessionID {
			return &model.Session{ID: sessionID, UserID: p.ID, Email: p.Email, ExpiresAt: time.Now().Add(time.Hour)}, nil
		}
	}
	return nil, nil
}

func (s *routerSessions) FindByID(ctx context.Context, uid string) (*model.UserProfile, error) {
	return s.profiles[uid], nil
}

func (s *routerSessions) EndSession(ctx context.Context, sessionID string) error { return nil }

func (s *routerSessions) OnSessionChange(ctx context.Context, sessionID string, fn auth.SessionListener) func() {
	session, _ := s.CurrentSession(ctx, sessionID)
	fn(session)
	return func() {}
}

var (
	_ middleware.SessionLoader = (*routerSessions)(nil)
	_ guard.ProfileFinder      = (*routerSessions)(nil)
	_ guard.SessionAuthority   = (*routerSessions)(nil)
)

// newTestRouter はモックサービスとスタブセッションで全ルートを構成する。
func newTestRouter(t *testing.T) (http.Handler, *mockClientState) {
	t.Helper()
	sessions := newRouterSessions()
	state := newMockClientState()
	limiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(limiter.Stop)

	g := guard.New(sessions, sessions, state, nil, guard.Config{DefaultPath: testHomePath})
	router := NewRouter(&RouterDeps{
		SessionLoader:       sessions,
		RateLimiter:         limiter,
		Guard:               g,
		State:               state,
		LoginPath:           testLoginPath,
		AuthService:         &mockAuthService{},
		ProfileService:      &mockProfileService{},
		AuthConfig:          AuthHandlerConfig{LoginPath: testLoginPath},
		AppointmentService:  &mockAppointmentService{},
		PatientService:      &mockPatientService{},
		PrescriptionService: &mockPrescriptionService{},
		DirectoryService:    &mockDirectoryService{},
		HealthChecker:       &mockHealthChecker{},
	})
	return router, state
}

// routerRequest はロールのセッションCookieとCSRFトークンを付けたJSONリクエストを生成する。
// roleが空の場合は未ログインのリクエストになる。
func routerRequest(method, target string, role model.Role, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: testCSRFToken})
	req.Header.Set("X-CSRF-Token", testCSRFToken)
	if role != "" {
		req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: string(role)})
	}
	return req
}

func TestNewRouter_RoleMatrix(t *testing.T) {
	router, _ := newTestRouter(t)

	tests := []struct {
		method  string
		path    string
		body    string
		allowed []model.Role
	}{
		{http.MethodGet, "/api/profile", "", model.AllRoles()},
		{http.MethodGet, "/api/appointments", "", model.AllRoles()},
		{http.MethodPost, "/api/appointments", `{}`, []model.Role{model.RoleAdmin, model.RoleReceptionist, model.RolePatient}},
		{http.MethodGet, "/api/queue", "", []model.Role{model.RoleAdmin, model.RoleDoctor, model.RoleReceptionist}},
		{http.MethodPost, "/api/queue/a1/start", "", []model.Role{model.RoleAdmin, model.RoleDoctor, model.RoleReceptionist}},
		{http.MethodPost, "/api/patients", `{}`, []model.Role{model.RoleAdmin, model.RoleReceptionist, model.RolePatient}},
		{http.MethodGet, "/api/patients", "", []model.Role{model.RoleAdmin, model.RoleDoctor, model.RoleReceptionist}},
		{http.MethodGet, "/api/patients/p1", "", []model.Role{model.RoleAdmin, model.RoleDoctor, model.RoleReceptionist}},
		{http.MethodGet, "/api/patients/p1/history", "", model.AllRoles()},
		{http.MethodGet, "/api/prescriptions", "", model.AllRoles()},
		{http.MethodPost, "/api/prescriptions", `{}`, []model.Role{model.RoleDoctor}},
		{http.MethodGet, "/api/directory/doctors", "", []model.Role{model.RoleAdmin, model.RoleDoctor, model.RoleReceptionist}},
		{http.MethodGet, "/api/directory/patients", "", []model.Role{model.RoleAdmin, model.RoleDoctor, model.RoleReceptionist}},
	}

	for _, tt := range tests {
		allowed := model.NewRoleSet(tt.allowed...)
		for _, role := range model.AllRoles() {
			t.Run(tt.method+" "+tt.path+" as "+string(role), func(t *testing.T) {
				w := httptest.NewRecorder()
				router.ServeHTTP(w, routerRequest(tt.method, tt.path, role, tt.body))

				if allowed.Allows(role) {
					if w.Code == http.StatusForbidden || w.Code == http.StatusUnauthorized {
						t.Errorf("status = %d, want the handler to run", w.Code)
					}
					return
				}
				if w.Code != http.StatusForbidden {
					t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
				}
			})
		}
	}
}

func TestNewRouter_NoSession_RedirectsToLoginAndRemembersPage(t *testing.T) {
	router, state := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, routerRequest(http.MethodGet, "/api/appointments?date=2024-06-01", "", ""))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	var body middleware.ErrorResponseBody
	json.NewDecoder(w.Body).Decode(&body)
	if body.Location != testLoginPath {
		t.Errorf("location = %q, want %q", body.Location, testLoginPath)
	}
	if got := state.values[clientstate.KeyRedirectAfterLogin]; got != "/api/appointments?date=2024-06-01" {
		t.Errorf("redirectAfterLogin = %q", got)
	}
}

func TestNewRouter_NoSession_BrowserGetsSeeOther(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/queue", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusSeeOther)
	}
	if got := w.Header().Get("Location"); got != testLoginPath {
		t.Errorf("Location = %q, want %q", got, testLoginPath)
	}
}

func TestNewRouter_PatientOnStaffPage_GetsStaffOnlyMessage(t *testing.T) {
	router, state := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, routerRequest(http.MethodGet, "/api/queue", model.RolePatient, ""))

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
	var body middleware.ErrorResponseBody
	json.NewDecoder(w.Body).Decode(&body)
	if body.Location != testHomePath {
		t.Errorf("location = %q, want %q", body.Location, testHomePath)
	}
	if state.values[clientstate.KeyFlashMessage] != patientDeniedMessage {
		t.Errorf("flash = %q, want the staff-only message", state.values[clientstate.KeyFlashMessage])
	}
}

func TestNewRouter_PostWithoutCSRF_Rejected(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/appointments", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: string(model.RoleReceptionist)})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
}

func TestNewRouter_PublicEndpoints(t *testing.T) {
	router, _ := newTestRouter(t)

	tests := []struct {
		path       string
		wantStatus int
	}{
		{"/health", http.StatusOK},
		{"/api/csrf-token", http.StatusOK},
		{"/auth/flash", http.StatusOK},
		{"/auth/me", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestNewRouter_SecurityHeaders(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
}
