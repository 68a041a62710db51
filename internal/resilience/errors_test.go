package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/rotisserie/eris"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"partner 503", NewTransientError(errors.New("partner: 503"), 503), true},
		{"wrapped by eris", eris.Wrap(NewTransientError(errors.New("partner: 429"), 429), "publish job"), true},
		{"wrapped by fmt", fmt.Errorf("notify status: %w", NewTransientError(errors.New("x"), 502)), true},
		{"rejected payload", errors.New("partner: 422 unknown material"), false},
		{"connection reset", fmt.Errorf("write tcp: %w", syscall.ECONNRESET), true},
		{"connection refused", fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED), true},
		{"dns timeout", &net.DNSError{IsTimeout: true, Err: "timeout"}, true},
		{"dns not found", &net.DNSError{Err: "no such host", Name: "partner.invalid"}, true},
		{"attempt deadline", eris.Wrap(context.DeadlineExceeded, "partner: POST /jobs"), true},
		{"shutdown", eris.Wrap(context.Canceled, "partner: POST /jobs"), false},
		{"broken pipe text", errors.New("write: Broken Pipe"), true},
		{"tls text", errors.New("net/http: TLS handshake timeout"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err  error
		want Class
	}{
		{nil, ""},
		{NewTransientError(errors.New("x"), 503), ClassTransient},
		{errors.New("partner: 400 bad request"), ClassPermanent},
		{fmt.Errorf("deliver: %w", context.Canceled), ClassCancelled},
	}
	for _, tt := range tests {
		if got := ClassifyError(tt.err); got != tt.want {
			t.Errorf("ClassifyError(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		if !IsTransientHTTPStatus(code) {
			t.Errorf("HTTP %d should be retried", code)
		}
	}
	for _, code := range []int{200, 202, 400, 401, 404, 409, 422, 501} {
		if IsTransientHTTPStatus(code) {
			t.Errorf("HTTP %d should not be retried", code)
		}
	}
}

func TestTransientError_WrapsCause(t *testing.T) {
	cause := errors.New("partner unavailable")
	te := NewTransientError(cause, 503)
	if !errors.Is(te, cause) {
		t.Error("expected errors.Is to reach the cause")
	}
	if te.Error() != "partner unavailable" {
		t.Errorf("unexpected message %q", te.Error())
	}
}

func TestRetryAfter(t *testing.T) {
	te := NewTransientError(errors.New("slow down"), 429)
	te.RetryAfter = 3 * time.Second
	if got := RetryAfter(eris.Wrap(te, "publish")); got != 3*time.Second {
		t.Errorf("got %v", got)
	}
	if got := RetryAfter(errors.New("plain")); got != 0 {
		t.Errorf("got %v", got)
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"5", 5 * time.Second},
		{" 12 ", 12 * time.Second},
		{"-1", 0},
		{"Mon, 01 Jun 2026 12:00:30 GMT", 30 * time.Second},
		{"Mon, 01 Jun 2026 11:59:00 GMT", 0},
		{"soon", 0},
	}
	for _, tt := range tests {
		if got := ParseRetryAfter(tt.in, now); got != tt.want {
			t.Errorf("ParseRetryAfter(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
