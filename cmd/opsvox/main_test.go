package main

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/opsvox/opsvox/pkg/device"
)

func TestEngageFailureHint(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "denied",
			err:  fmt.Errorf("session: open input: %w", device.ErrDenied),
			want: "microphone access denied",
		},
		{
			name: "unavailable",
			err:  fmt.Errorf("session: open input: %w", device.ErrUnavailable),
			want: "no usable microphone",
		},
		{
			name: "other errors get no hint",
			err:  errors.New("transport: already engaged"),
			want: "",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := engageFailureHint(tc.err)
			if tc.want == "" {
				if got != "" {
					t.Errorf("engageFailureHint() = %q, want empty", got)
				}
				return
			}
			if !strings.Contains(got, tc.want) {
				t.Errorf("engageFailureHint() = %q, want substring %q", got, tc.want)
			}
		})
	}
}
