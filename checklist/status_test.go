package checklist

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeStatus_Aliases(t *testing.T) {
	tests := []struct {
		in   string
		want Status
	}{
		{"pending", StatusPending},
		{"complete", StatusComplete},
		{"fail", StatusFail},
		{"warning", StatusWarning},
		{"pass", StatusComplete},
		{"Passed", StatusComplete},
		{"done", StatusComplete},
		{"DONE", StatusComplete},
		{"yes", StatusComplete},
		{"y", StatusComplete},
		{"ok", StatusComplete},
		{"okay", StatusComplete},
		{"good", StatusComplete},
		{"success", StatusComplete},
		{"resolved", StatusComplete},
		{"no", StatusPending},
		{"not yet", StatusPending},
		{"incomplete", StatusPending},
		{"todo", StatusPending},
		{"to-do", StatusPending},
		{"caution", StatusWarning},
		{"attention", StatusWarning},
		{"failed", StatusFail},
		{"issue", StatusFail},
		{"problem", StatusFail},
		// Heuristics beyond the alias table.
		{"completely sorted", StatusComplete},
		{"failing since yesterday", StatusFail},
		{"some warnings remain", StatusWarning},
		{"still pending review", StatusPending},
		{"  Fail  ", StatusFail},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := NormalizeStatus(tt.in)
			assert.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeStatus_NoMatch(t *testing.T) {
	for _, in := range []string{"", "   ", "banana", "unknown state"} {
		_, ok := NormalizeStatus(in)
		assert.False(t, ok, "input %q", in)
	}
}
