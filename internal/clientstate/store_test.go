package clientstate

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestStore() *Store {
	return NewStore(Config{Secret: "test-secret", MaxAge: 3600})
}

// requestWithCookies はレスポンスで設定されたCookieを次のリクエストに引き継ぐ。
func requestWithCookies(rec *httptest.ResponseRecorder) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	return req
}

func TestStore_SetGet(t *testing.T) {
	s := newTestStore()
	rec := httptest.NewRecorder()
	s.Set(rec, KeyRedirectAfterLogin, "/appointment.html?date=2024-05-01")

	got, ok := s.Get(requestWithCookies(rec), KeyRedirectAfterLogin)
	if !ok {
		t.Fatal("expected value to be present")
	}
	if got != "/appointment.html?date=2024-05-01" {
		t.Errorf("got %q", got)
	}

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || !cookies[0].HttpOnly || cookies[0].Name != "cs_redirectAfterLogin" {
		t.Errorf("unexpected cookie: %+v", cookies)
	}
}

func TestStore_GetMissing(t *testing.T) {
	s := newTestStore()
	if _, ok := s.Get(httptest.NewRequest(http.MethodGet, "/", nil), KeyFlashMessage); ok {
		t.Error("expected missing value")
	}
}

func TestStore_RejectsTamperedValue(t *testing.T) {
	s := newTestStore()
	rec := httptest.NewRecorder()
	s.Set(rec, KeyCurrentPatientForDetails, "p1")
	original := rec.Result().Cookies()[0]

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: original.Name, Value: "cDI" + original.Value[3:]})
	if _, ok := s.Get(req, KeyCurrentPatientForDetails); ok {
		t.Error("tampered value must be rejected")
	}
}

// TestStore_RejectsValueMovedToAnotherKey は別キーの署名付き値を流用できないことを検証する。
func TestStore_RejectsValueMovedToAnotherKey(t *testing.T) {
	s := newTestStore()
	rec := httptest.NewRecorder()
	s.Set(rec, KeyCurrentPatientForDetails, "p1")
	value := rec.Result().Cookies()[0].Value

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: cookiePrefix + KeyPatientToViewPrescriptions, Value: value})
	if _, ok := s.Get(req, KeyPatientToViewPrescriptions); ok {
		t.Error("value signed for another key must be rejected")
	}
}

func TestStore_RejectsOtherSecret(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestStore().Set(rec, KeyFlashMessage, "hello")

	other := NewStore(Config{Secret: "other-secret"})
	if _, ok := other.Get(requestWithCookies(rec), KeyFlashMessage); ok {
		t.Error("value signed with another secret must be rejected")
	}
}

func TestStore_RemoveAndPop(t *testing.T) {
	s := newTestStore()
	rec := httptest.NewRecorder()
	s.Set(rec, KeyFlashMessage, "Access denied")
	req := requestWithCookies(rec)

	popRec := httptest.NewRecorder()
	got, ok := s.Pop(popRec, req, KeyFlashMessage)
	if !ok || got != "Access denied" {
		t.Fatalf("Pop = %q, %v", got, ok)
	}
	cookies := popRec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge >= 0 {
		t.Errorf("expected deletion cookie, got %+v", cookies)
	}

	emptyRec := httptest.NewRecorder()
	if _, ok := s.Pop(emptyRec, httptest.NewRequest(http.MethodGet, "/", nil), KeyFlashMessage); ok {
		t.Error("Pop on missing key should return false")
	}
	if len(emptyRec.Result().Cookies()) != 0 {
		t.Error("Pop on missing key should not write cookies")
	}
}
