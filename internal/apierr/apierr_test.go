package apierr

import (
	"errors"
	"net/http"
	"testing"
)

func TestStatusCode_MapsKnownKinds(t *testing.T) {
	cases := map[Kind]int{
		KindInput:             http.StatusBadRequest,
		KindPrivacyBlocked:    http.StatusUnprocessableEntity,
		KindNotFound:          http.StatusNotFound,
		KindConflict:          http.StatusConflict,
		KindQueueExhausted:    http.StatusServiceUnavailable,
		KindStoreBusy:         http.StatusTooManyRequests,
		KindConfigMigration:   http.StatusPreconditionFailed,
		KindInternal:          http.StatusInternalServerError,
	}
	for kind, want := range cases {
		err := New(kind, "boom", nil)
		if got := StatusCode(err); got != want {
			t.Errorf("kind %s: got %d want %d", kind, got, want)
		}
	}
}

func TestStatusCode_UntaggedErrorIsInternal(t *testing.T) {
	if got := StatusCode(errors.New("plain")); got != http.StatusInternalServerError {
		t.Fatalf("expected 500 for untagged error, got %d", got)
	}
}

func TestError_UnwrapsCause(t *testing.T) {
	cause := errors.New("root cause")
	err := New(KindInput, "bad request", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to find the wrapped cause")
	}
}
