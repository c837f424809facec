package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/clinicman/internal/model"
)

func findCSRFCookie(resp *http.Response) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == csrfCookieName {
			return c
		}
	}
	return nil
}

func TestCSRFMiddleware_SafeMethods_PassThroughAndIssueCookie(t *testing.T) {
	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		t.Run(method, func(t *testing.T) {
			called := false
			handler := NewCSRFMiddleware(CSRFConfig{CookieDomain: "clinic.example.com"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			}))

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest(method, "/api/appointments", nil))

			if !called {
				t.Fatalf("handler should have been called for %s", method)
			}
			c := findCSRFCookie(w.Result())
			if c == nil || c.Value == "" {
				t.Fatal("expected CSRF cookie to be issued")
			}
			if c.HttpOnly {
				t.Error("CSRF cookie should NOT be HttpOnly (frontend needs to read it)")
			}
			if c.SameSite != http.SameSiteLaxMode {
				t.Errorf("SameSite = %v, want Lax", c.SameSite)
			}
			if c.Path != "/" || c.MaxAge != defaultCSRFMaxAge {
				t.Errorf("cookie path/max-age = %q/%d", c.Path, c.MaxAge)
			}
		})
	}
}

func TestCSRFMiddleware_ExistingCookie_NotReplaced(t *testing.T) {
	handler := NewCSRFMiddleware(CSRFConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/api/queue", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "existing-token"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if findCSRFCookie(w.Result()) != nil {
		t.Error("CSRF cookie should not be re-set when already present")
	}
}

func TestCSRFMiddleware_CustomMaxAge(t *testing.T) {
	handler := NewCSRFMiddleware(CSRFConfig{MaxAge: 600})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/profile", nil))

	if c := findCSRFCookie(w.Result()); c == nil || c.MaxAge != 600 {
		t.Errorf("cookie = %+v, want MaxAge 600", c)
	}
}

func TestCSRFMiddleware_StateChangingRequests(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		cookie     string
		header     string
		wantStatus int
	}{
		{"POST valid", http.MethodPost, "tok", "tok", http.StatusOK},
		{"PUT valid", http.MethodPut, "tok", "tok", http.StatusOK},
		{"POST no cookie", http.MethodPost, "", "tok", http.StatusForbidden},
		{"POST no header", http.MethodPost, "tok", "", http.StatusForbidden},
		{"POST mismatch", http.MethodPost, "tok", "other", http.StatusForbidden},
		{"PATCH no token", http.MethodPatch, "", "", http.StatusForbidden},
		{"DELETE no token", http.MethodDelete, "", "", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := NewCSRFMiddleware(CSRFConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(tt.method, "/api/prescriptions", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: tt.cookie})
			}
			if tt.header != "" {
				req.Header.Set(csrfHeaderName, tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if called != (tt.wantStatus == http.StatusOK) {
				t.Errorf("handler called = %v", called)
			}
			if tt.wantStatus == http.StatusForbidden {
				var body ErrorResponseBody
				if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
					t.Fatalf("failed to decode: %v", err)
				}
				if body.Code != model.ErrCodeCSRFTokenInvalid {
					t.Errorf("code = %q, want %q", body.Code, model.ErrCodeCSRFTokenInvalid)
				}
			}
		})
	}
}

func TestVerifyCSRFToken_Reasons(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	if got := verifyCSRFToken(req); got != "missing cookie token" {
		t.Errorf("reason = %q", got)
	}
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "a"})
	if got := verifyCSRFToken(req); got != "missing header token" {
		t.Errorf("reason = %q", got)
	}
	req.Header.Set(csrfHeaderName, "b")
	if got := verifyCSRFToken(req); got != "token mismatch" {
		t.Errorf("reason = %q", got)
	}
	req.Header.Set(csrfHeaderName, "a")
	if got := verifyCSRFToken(req); got != "" {
		t.Errorf("reason = %q, want empty", got)
	}
}

func TestCSRFTokenHandler_IssuesTokenAndReturnsJSON(t *testing.T) {
	h := NewCSRFTokenHandler(CSRFConfig{CookieDomain: "clinic.example.com"})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil))

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	c := findCSRFCookie(resp)
	if c == nil || body.Token == "" || c.Value != body.Token {
		t.Errorf("cookie = %+v, token = %q; should match and be non-empty", c, body.Token)
	}
}

func TestCSRFTokenHandler_ExistingCookie_ReturnsSameToken(t *testing.T) {
	h := NewCSRFTokenHandler(CSRFConfig{})

	req := httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "existing-csrf-token"})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var body struct {
		Token string `json:"token"`
	}
	json.NewDecoder(w.Body).Decode(&body)
	if body.Token != "existing-csrf-token" {
		t.Errorf("token = %q, want the existing token", body.Token)
	}
	if findCSRFCookie(w.Result()) != nil {
		t.Error("existing cookie should not be replaced")
	}
}
