package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "test-signing-key-for-unit-tests"

func recordError(w http.ResponseWriter, status int, code, _ string) {
	w.Header().Set("X-Error-Code", code)
	w.WriteHeader(status)
}

func TestIssueAndParse(t *testing.T) {
	v := NewVerifier(testKey, "telehealth")
	want := Principal{UserID: uuid.New(), Role: RoleDoctor}

	token, err := v.Issue(want, time.Minute)
	require.NoError(t, err)

	got, err := v.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestParseRejects(t *testing.T) {
	v := NewVerifier(testKey, "telehealth")
	sign := func(claims Claims, key string) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
		require.NoError(t, err)
		return s
	}
	valid := func() Claims {
		return Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   uuid.NewString(),
				Issuer:    "telehealth",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
			},
			Role: RolePatient,
		}
	}

	expired := valid()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	wrongIssuer := valid()
	wrongIssuer.Issuer = "someone-else"
	badSubject := valid()
	badSubject.Subject = "patient-7"
	badRole := valid()
	badRole.Role = "nurse"
	noExpiry := valid()
	noExpiry.ExpiresAt = nil

	tests := map[string]string{
		"wrong key":     sign(valid(), "other-key"),
		"expired":       sign(expired, testKey),
		"wrong issuer":  sign(wrongIssuer, testKey),
		"bad subject":   sign(badSubject, testKey),
		"unknown role":  sign(badRole, testKey),
		"no expiry":     sign(noExpiry, testKey),
		"garbage token": "not.a.jwt",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := v.Parse(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestMiddleware(t *testing.T) {
	v := NewVerifier(testKey, "")
	patient := Principal{UserID: uuid.New(), Role: RolePatient}
	token, err := v.Issue(patient, time.Minute)
	require.NoError(t, err)

	var seen Principal
	h := Middleware(v, recordError)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"basic auth", "Basic dXNlcjpwYXNz", http.StatusUnauthorized},
		{"empty bearer", "Bearer ", http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer " + token, http.StatusNoContent},
		{"lowercase scheme", "bearer " + token, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
	assert.Equal(t, patient, seen)
}

func TestRequireRole(t *testing.T) {
	h := RequireRole(recordError, RoleDoctor, RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	serve := func(p *Principal) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if p != nil {
			req = req.WithContext(WithPrincipal(req.Context(), *p))
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusUnauthorized, serve(nil).Code)

	rec := serve(&Principal{UserID: uuid.New(), Role: RolePatient})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", rec.Header().Get("X-Error-Code"))

	assert.Equal(t, http.StatusOK, serve(&Principal{UserID: uuid.New(), Role: RoleDoctor}).Code)
}
