package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/mistio/tsfdb-server/internal/errors"
)

func TestWrapRequiresOrg(t *testing.T) {
	s := &Server{}
	called := false
	h := s.wrap(func(w http.ResponseWriter, r *http.Request, org string) error {
		called = true
		return nil
	})

	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/v1/resources", nil))

	if called {
		t.Error("handler ran without an org header")
	}
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] == "" {
		t.Error("error body missing")
	}
}

func TestWrapStatusMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"ok", nil, http.StatusOK},
		{"not found", errors.NotFoundf("metric"), http.StatusNotFound},
		{"bad request", errors.BadRequestf("query"), http.StatusBadRequest},
		{"transient", errors.Transientf("txn"), http.StatusServiceUnavailable},
	}

	s := &Server{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := s.wrap(func(w http.ResponseWriter, r *http.Request, org string) error {
				if tt.err == nil {
					w.WriteHeader(http.StatusOK)
				}
				return tt.err
			})

			req := httptest.NewRequest(http.MethodGet, "/v1/resources", nil)
			req.Header.Set(orgHeader, "org1")
			w := httptest.NewRecorder()
			h(w, req)

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestAllowedResources(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    []string
		wantErr bool
	}{
		{"absent", "", nil, false},
		{"list", `["r1","r2"]`, []string{"r1", "r2"}, false},
		{"empty list", `[]`, []string{}, false},
		{"garbage", `r1,r2`, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/resources", nil)
			if tt.header != "" {
				req.Header.Set(allowedHeader, tt.header)
			}

			got, err := allowedResources(req)
			if tt.wantErr {
				if !errors.IsBadRequest(err) {
					t.Errorf("error = %v, want bad request", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("allowedResources: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("resources = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	writeJSON(w, http.StatusOK, map[string]string{"key": "value"})

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["key"] != "value" {
		t.Errorf("body = %v", body)
	}
}
