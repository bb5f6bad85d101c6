package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	hashed, err := HashKey("reader-secret")
	if err != nil {
		t.Fatalf("hash key: %v", err)
	}
	svc, err := NewService(Config{
		Mode: ModeAPIKey,
		Keys: []Key{
			{Name: "ci", Secret: "writer-secret", Permissions: []string{PermissionWrite}},
			{Name: "dashboard", Secret: hashed, Permissions: []string{PermissionRead}},
			{Name: "old", Secret: "revoked-secret", Permissions: []string{PermissionWrite}, Disabled: true},
		},
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestAuthenticateRequest(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	subject, err := svc.AuthenticateRequest(ctx, "Bearer reader-secret")
	if err != nil || subject.Name != "dashboard" {
		t.Fatalf("hashed key should authenticate: %v %+v", err, subject)
	}
	if subject.HasPermission(PermissionWrite) {
		t.Fatalf("read key must not write")
	}

	subject, err = svc.AuthenticateRequest(ctx, "bearer writer-secret")
	if err != nil || !subject.HasPermission(PermissionRead) {
		t.Fatalf("write key should imply read: %v", err)
	}

	cases := map[string]error{
		"":                      ErrMissingToken,
		"Basic abc":             ErrMissingToken,
		"Bearer ":               ErrMissingToken,
		"Bearer wrong":          ErrInvalidToken,
		"Bearer revoked-secret": ErrSubjectRevoked,
	}
	for header, want := range cases {
		if _, err := svc.AuthenticateRequest(ctx, header); !errors.Is(err, want) {
			t.Fatalf("%q: got %v want %v", header, err, want)
		}
	}
}

func TestNewServiceValidatesConfig(t *testing.T) {
	bad := []Config{
		{Mode: "oauth"},
		{Mode: ModeAPIKey},
		{Mode: ModeAPIKey, Keys: []Key{{Name: "", Secret: "x"}}},
		{Mode: ModeAPIKey, Keys: []Key{{Name: "a", Secret: "x"}, {Name: "a", Secret: "y"}}},
		{Mode: ModeAPIKey, Keys: []Key{{Name: "a", Secret: "sha256:zz"}}},
	}
	for i, cfg := range bad {
		if _, err := NewService(cfg); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
	svc, err := NewService(Config{})
	if err != nil || svc.Mode() != ModeDisabled {
		t.Fatalf("empty config should disable auth: %v", err)
	}
}

func TestMiddleware(t *testing.T) {
	svc := newTestService(t)
	var seen *Subject
	h := svc.Middleware(MiddlewareConfig{
		Permission: func(r *http.Request) string {
			if r.Method == http.MethodGet {
				return PermissionRead
			}
			return PermissionWrite
		},
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = SubjectFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	cases := []struct {
		method, token string
		status        int
	}{
		{http.MethodGet, "", http.StatusUnauthorized},
		{http.MethodGet, "reader-secret", http.StatusOK},
		{http.MethodPost, "reader-secret", http.StatusForbidden},
		{http.MethodPost, "writer-secret", http.StatusOK},
		{http.MethodPost, "revoked-secret", http.StatusForbidden},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, "/api/v1/tools", nil)
		if tc.token != "" {
			req.Header.Set("Authorization", "Bearer "+tc.token)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tc.status {
			t.Fatalf("%s %s: got %d want %d", tc.method, tc.token, rec.Code, tc.status)
		}
	}
	if seen == nil || seen.Name != "ci" {
		t.Fatalf("handler should see the authenticated subject, got %+v", seen)
	}
}

func TestDisabledMiddlewarePassesThrough(t *testing.T) {
	svc, err := NewService(Config{Mode: ModeDisabled})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	h := svc.Middleware(MiddlewareConfig{})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status %d", rec.Code)
	}
}
