package apperr_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/packforge/distro/pkg/apperr"
)

type wireEnvelope struct {
	Errors []struct {
		Status string `json:"status"`
		Code   string `json:"code"`
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

func TestWriteHTTP_ValidationShape(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/publishers/p1/modpacks", nil)

	apperr.WriteHTTP(w, r, apperr.New(apperr.KindValidation, "name is required"))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	var env wireEnvelope
	if err := json.NewDecoder(w.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(env.Errors) != 1 {
		t.Fatalf("expected one error, got %d", len(env.Errors))
	}
	if env.Errors[0].Status != "400" || env.Errors[0].Code != "validation" {
		t.Errorf("unexpected envelope: %+v", env.Errors[0])
	}
}

func TestWriteHTTP_InternalSanitizesCause(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/x", nil)

	apperr.WriteHTTP(w, r, apperr.Internal(errors.New("pq: connection refused to host=10.0.0.1")))

	var env wireEnvelope
	if err := json.NewDecoder(w.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Errors[0].Detail == "pq: connection refused to host=10.0.0.1" {
		t.Fatal("internal cause leaked to client")
	}
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
}

func TestWriteHTTP_RateLimitedSetsRetryAfter(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/x", nil)

	apperr.WriteHTTP(w, r, apperr.New(apperr.KindRateLimited, "slow down"))

	if w.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header to be set")
	}
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", w.Code)
	}
}

func TestKindOf_UnknownErrorDefaultsInternal(t *testing.T) {
	if apperr.KindOf(errors.New("boom")) != apperr.KindInternal {
		t.Error("expected unknown error to classify as internal")
	}
}
