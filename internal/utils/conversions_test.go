package utils_test

import (
	"testing"

	"github.com/jrsteele09/go-auth-gate/internal/utils"
	"github.com/stretchr/testify/require"
)

func TestToStringSlice(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want []string
	}{
		{"json array", []any{"admin", 7, "", "reader"}, []string{"admin", "reader"}},
		{"string slice", []string{"admin", ""}, []string{"admin"}},
		{"single string", "admin", []string{"admin"}},
		{"empty string", "", nil},
		{"missing", nil, nil},
		{"wrong type", 42, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, utils.ToStringSlice(tt.in))
		})
	}
}
