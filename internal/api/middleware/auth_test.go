package middleware

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

const (
	testKeyID  = "test-key-ld"
	testIssuer = "https://keycloak.test/realms/lexdocs"
)

func generateTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	return key
}

// buildJWKSetJSON строит JWKS JSON из RSA публичного ключа.
func buildJWKSetJSON(pub *rsa.PublicKey, kid string) json.RawMessage {
	jwks := map[string]any{
		"keys": []map[string]any{
			{
				"kty": "RSA",
				"kid": kid,
				"use": "sig",
				"alg": "RS256",
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			},
		},
	}
	data, _ := json.Marshal(jwks)
	return data
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestJWTAuth(t *testing.T, key *rsa.PrivateKey) *JWTAuth {
	t.Helper()
	kf, err := keyfunc.NewJWKSetJSON(buildJWKSetJSON(&key.PublicKey, testKeyID))
	if err != nil {
		t.Fatalf("не удалось создать keyfunc: %v", err)
	}
	return NewJWTAuthWithKeyfunc(kf, testIssuer,
		[]string{"lexdocs-admins"}, []string{"lexdocs-members"}, testLogger())
}

// signToken подписывает токен; переопределения claims задаются через extra.
func signToken(t *testing.T, key *rsa.PrivateKey, sub string, groups, roles []string, extra jwt.MapClaims) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":                sub,
		"preferred_username": sub,
		"email":              sub + "@lexdocs.test",
		"iss":                testIssuer,
		"exp":                jwt.NewNumericDate(time.Now().Add(time.Hour)),
		"nbf":                jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		"iat":                jwt.NewNumericDate(time.Now()),
	}
	if len(groups) > 0 {
		claims["groups"] = groups
	}
	if len(roles) > 0 {
		claims["realm_access"] = map[string]any{"roles": roles}
	}
	for k, v := range extra {
		claims[k] = v
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKeyID
	s, err := token.SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestJWTAuth_ValidToken(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key)

	var got *AuthClaims
	handler := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents/x/lock", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, key, "alice", []string{"lexdocs-admins"}, nil, nil))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("статус %d, тело: %s", rec.Code, rec.Body.String())
	}
	if got == nil || got.Subject != "alice" || got.PreferredUsername != "alice" || got.Role != "admin" {
		t.Errorf("claims = %+v", got)
	}
}

func TestJWTAuth_Rejects(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key)
	handler := auth.Middleware()(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		t.Error("handler не должен быть вызван")
	}))

	tests := []struct {
		name   string
		header string
	}{
		{"нет заголовка", ""},
		{"не Bearer", "Basic dXNlcjpwYXNz"},
		{"пустой токен", "Bearer "},
		{"мусор вместо токена", "Bearer not.a.jwt"},
		{"просроченный токен", "Bearer " + signToken(t, key, "alice", nil, nil,
			jwt.MapClaims{"exp": jwt.NewNumericDate(time.Now().Add(-time.Hour))})},
		{"чужой issuer", "Bearer " + signToken(t, key, "alice", nil, nil,
			jwt.MapClaims{"iss": "https://other.test/realms/other"})},
		{"подпись другим ключом", "Bearer " + signToken(t, generateTestKey(t), "alice", nil, nil, nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/audit", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("статус %d, ожидается 401", rec.Code)
			}
		})
	}
}

func TestJWTAuth_Optional(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key)

	tests := []struct {
		name        string
		header      string
		wantStatus  int
		wantSubject string
	}{
		{"анонимный запрос", "", http.StatusOK, ""},
		{"валидный токен", "Bearer " + signToken(t, key, "bob", nil, nil, nil), http.StatusOK, "bob"},
		{"невалидный токен", "Bearer broken", http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var subject string
			handler := auth.Optional()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				subject = SubjectFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodPost, "/api/v1/public/share/abc", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("статус %d, ожидается %d", rec.Code, tt.wantStatus)
			}
			if subject != tt.wantSubject {
				t.Errorf("subject = %q, ожидается %q", subject, tt.wantSubject)
			}
		})
	}
}

func TestJWTAuth_RoleMapping(t *testing.T) {
	tests := []struct {
		name         string
		groups       []string
		roles        []string
		expectedRole string
	}{
		{"группа администраторов", []string{"lexdocs-admins"}, nil, "admin"},
		{"группа участников", []string{"lexdocs-members"}, nil, "member"},
		{"обе группы", []string{"lexdocs-members", "lexdocs-admins"}, nil, "admin"},
		{"realm-роль без групп", nil, []string{"admin", "default-roles-lexdocs"}, "admin"},
		{"группа важнее realm-роли", []string{"lexdocs-members"}, []string{"admin"}, "member"},
		{"неизвестная группа", []string{"other"}, nil, ""},
	}

	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var role string
			handler := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				role = ClaimsFromContext(r.Context()).Role
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", "Bearer "+signToken(t, key, "u", tt.groups, tt.roles, nil))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if role != tt.expectedRole {
				t.Errorf("Role = %q, ожидается %q", role, tt.expectedRole)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name       string
		claims     *AuthClaims
		wantStatus int
	}{
		{"администратор", &AuthClaims{Subject: "a", Role: "admin"}, http.StatusOK},
		{"участник", &AuthClaims{Subject: "m", Role: "member"}, http.StatusForbidden},
		{"без claims", nil, http.StatusUnauthorized},
	}

	handler := RequireRole("admin")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/audit", nil)
			if tt.claims != nil {
				req = req.WithContext(context.WithValue(req.Context(), ContextKeyClaims, tt.claims))
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Errorf("статус %d, ожидается %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestKeycloakReadinessChecker(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus string
	}{
		{"ключи есть", http.StatusOK, `{"keys":[{"kid":"k"}]}`, "ok"},
		{"нет ключей", http.StatusOK, `{"keys":[]}`, "degraded"},
		{"ошибка сервера", http.StatusServiceUnavailable, ``, "fail"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			status, _ := NewKeycloakReadinessChecker(srv.URL, srv.Client()).CheckReady()
			if status != tt.wantStatus {
				t.Errorf("CheckReady() = %q, ожидается %q", status, tt.wantStatus)
			}
		})
	}
}
