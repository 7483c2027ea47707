package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthLive(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHealthHandler().HealthLive(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d, ожидается 200", rec.Code)
	}
	var resp healthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "ok" || resp.Service != serviceName {
		t.Errorf("ответ = %+v", resp)
	}
}

func TestHealthReady(t *testing.T) {
	tests := []struct {
		name       string
		checks     []ReadinessCheck
		wantStatus int
		wantResult string
	}{
		{
			name: "все доступны",
			checks: []ReadinessCheck{
				{"postgresql", staticChecker{"ok", ""}},
				{"keycloak", staticChecker{"ok", ""}},
			},
			wantStatus: http.StatusOK, wantResult: "ok",
		},
		{
			name: "redis деградировал",
			checks: []ReadinessCheck{
				{"postgresql", staticChecker{"ok", ""}},
				{"redis", staticChecker{"degraded", "redis недоступен"}},
			},
			wantStatus: http.StatusOK, wantResult: "degraded",
		},
		{
			name: "postgres недоступен",
			checks: []ReadinessCheck{
				{"postgresql", staticChecker{"fail", "connection refused"}},
				{"redis", staticChecker{"degraded", ""}},
			},
			wantStatus: http.StatusServiceUnavailable, wantResult: "fail",
		},
		{
			name:       "проверка не инициализирована",
			checks:     []ReadinessCheck{{Name: "keycloak"}},
			wantStatus: http.StatusServiceUnavailable, wantResult: "fail",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			NewHealthHandler(tt.checks...).HealthReady(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			if rec.Code != tt.wantStatus {
				t.Errorf("статус = %d, ожидается %d", rec.Code, tt.wantStatus)
			}
			var resp healthResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatal(err)
			}
			if resp.Status != tt.wantResult {
				t.Errorf("status = %q, ожидается %q", resp.Status, tt.wantResult)
			}
			if len(resp.Checks) != len(tt.checks) {
				t.Errorf("checks = %v", resp.Checks)
			}
		})
	}
}
