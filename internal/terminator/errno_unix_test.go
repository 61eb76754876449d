//go:build !windows

package terminator

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"golang.org/x/sys/unix"
)

func TestTerminatePermissionDenied(t *testing.T) {
	p := &fakeProcess{running: true, terminateErr: fmt.Errorf("kill: %w", unix.EPERM)}
	term, _ := newFakeTerminator(t, map[int32]*fakeProcess{1: p})

	err := term.Terminate(context.Background(), 1, Graceful)
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if !errors.Is(err, unix.EPERM) {
		t.Fatalf("original errno should stay in the chain: %v", err)
	}
}

func TestClassifyErrno(t *testing.T) {
	tests := []struct {
		err  error
		want error
	}{
		{unix.EPERM, ErrPermissionDenied},
		{fmt.Errorf("open: %w", unix.EACCES), ErrPermissionDenied},
		{unix.ESRCH, ErrNoSuchProcess},
		{unix.EINVAL, nil},
	}
	for _, tt := range tests {
		if got := classifyErrno(tt.err); got != tt.want {
			t.Errorf("classifyErrno(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
