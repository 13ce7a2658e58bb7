package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/apple/foundationdb/bindings/go/src/fdb"
)

func TestClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		is   func(error) bool
	}{
		{"not found", NotFoundf("metric %q", "cpu"), IsNotFound},
		{"bad request", BadRequestf("inverted range"), IsBadRequest},
		{"transient", Transientf("txn conflict"), IsTransient},
		{"partial failure", PartialFailuref("2 of 5 branches failed"), IsPartialFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.is(tt.err) {
				t.Errorf("%v not classified", tt.err)
			}
			// Wrapping must not lose the class.
			if !tt.is(Wrap(tt.err, "outer")) {
				t.Errorf("wrapped %v lost its class", tt.err)
			}
		})
	}
}

func TestIsClientError(t *testing.T) {
	if !IsClientError(NotFoundf("x")) || !IsClientError(BadRequestf("x")) {
		t.Error("4xx-class errors not recognized")
	}
	if IsClientError(Transientf("x")) {
		t.Error("transient error misclassified as client error")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{NotFoundf("x"), http.StatusNotFound},
		{BadRequestf("x"), http.StatusBadRequest},
		{Transientf("x"), http.StatusServiceUnavailable},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := HTTPStatus(tt.err); got != tt.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestFromSubstrate(t *testing.T) {
	if FromSubstrate(nil, "op") != nil {
		t.Error("nil error did not pass through")
	}

	err := FromSubstrate(fdb.Error{Code: 1020}, "write datapoint")
	if !IsTransient(err) {
		t.Errorf("substrate error not transient: %v", err)
	}

	plain := fmt.Errorf("boom")
	if got := FromSubstrate(plain, "op"); IsTransient(got) {
		t.Errorf("plain error became transient: %v", got)
	}
}

func TestMessageContext(t *testing.T) {
	err := NotFoundf("metric %q on resource %q", "cpu.user", "r1")
	want := `metric "cpu.user" on resource "r1": not found`
	if err.Error() != want {
		t.Errorf("message = %q, want %q", err.Error(), want)
	}
}
