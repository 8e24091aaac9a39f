package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorUnwrapsToKind(t *testing.T) {
	err := New(ErrExpired, "invitation expired")
	if !errors.Is(err, ErrExpired) {
		t.Error("expected errors.Is(err, ErrExpired)")
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("expected errors.Is(err, ErrNotFound) = false")
	}

	wrapped := fmt.Errorf("accept: %w", err)
	if Kind(wrapped) != ErrExpired {
		t.Errorf("Kind = %v, want %v", Kind(wrapped), ErrExpired)
	}
}

func TestStatusAndCode(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{Validation("bad date"), http.StatusBadRequest, "validation"},
		{New(ErrNotFound, ""), http.StatusNotFound, "not_found"},
		{New(ErrExpired, ""), http.StatusGone, "expired"},
		{New(ErrAlreadyAccepted, ""), http.StatusConflict, "already_accepted"},
		{New(ErrAlreadyExists, ""), http.StatusConflict, "already_exists"},
		{New(ErrForbidden, ""), http.StatusForbidden, "forbidden"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}

	for _, tt := range tests {
		if got := Status(tt.err); got != tt.status {
			t.Errorf("Status(%v) = %d, want %d", tt.err, got, tt.status)
		}
		if got := Code(tt.err); got != tt.code {
			t.Errorf("Code(%v) = %q, want %q", tt.err, got, tt.code)
		}
	}
}

func TestFromResponsePrefersCode(t *testing.T) {
	err := FromResponse(http.StatusConflict, "already_accepted", "already accepted")
	if !errors.Is(err, ErrAlreadyAccepted) {
		t.Errorf("kind = %v, want %v", err.Kind, ErrAlreadyAccepted)
	}
}

func TestFromResponseFallsBackToStatus(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusBadRequest, ErrValidation},
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusGone, ErrExpired},
		{http.StatusInternalServerError, ErrTransport},
		{http.StatusBadGateway, ErrTransport},
	}
	for _, tt := range tests {
		err := FromResponse(tt.status, "", "")
		if !errors.Is(err, tt.want) {
			t.Errorf("FromResponse(%d) kind = %v, want %v", tt.status, err.Kind, tt.want)
		}
	}
}

func TestMessage(t *testing.T) {
	if got := Message(New(ErrExpired, "")); got != "This invitation has expired." {
		t.Errorf("Message = %q", got)
	}
	if got := Message(New(ErrValidation, "time 10:00 is not scheduled")); got != "time 10:00 is not scheduled" {
		t.Errorf("Message = %q", got)
	}
	generic := "Something went wrong. Please try again."
	if got := Message(New(ErrTransport, "dial tcp: refused")); got != generic {
		t.Errorf("Message = %q, want generic", got)
	}
	if got := Message(errors.New("boom")); got != generic {
		t.Errorf("Message = %q, want generic", got)
	}
}
