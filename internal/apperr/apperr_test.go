package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorIs_MatchesKind(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", New(KindNotFound, "gpt %d not found", 7))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected NotFound match")
	}
	if errors.Is(err, ErrForbidden) {
		t.Fatalf("unexpected Forbidden match")
	}
	if got := HTTPStatus(err); got != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", got)
	}
}

func TestAttachmentError_MatchesProblemKinds(t *testing.T) {
	err := &AttachmentError{Problems: []FileProblem{
		{Name: "a.exe", Kind: KindUnsupportedFileType, Reason: "unsupported type"},
	}}
	if !errors.Is(err, ErrInvalidAttachment) {
		t.Fatalf("expected InvalidAttachment match")
	}
	if !errors.Is(err, ErrUnsupportedFileType) {
		t.Fatalf("expected UnsupportedFileType match")
	}
	if errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("unexpected FileTooLarge match")
	}
	if got := HTTPStatus(err); got != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", got)
	}
	msg, details := PublicMessage(err)
	if msg != "invalid attachment" || len(details) != 1 {
		t.Fatalf("unexpected public message %q %v", msg, details)
	}
}

func TestHTTPStatus_Unknown(t *testing.T) {
	if got := HTTPStatus(errors.New("boom")); got != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", got)
	}
	msg, _ := PublicMessage(errors.New("boom"))
	if msg != "internal server error" {
		t.Fatalf("expected generic message, got %q", msg)
	}
}
