package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskCredential(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"abc", "***"},
		{"abcdef", "ab****"},
		{"abcd1234wxyz", "abcd****wxyz"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MaskCredential(tt.in), tt.in)
	}
}

func TestMaskSecrets(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"query param", "GET /quote?api_key=abcd1234wxyz failed", "GET /quote?api_key=abcd****wxyz failed"},
		{"header", "Authorization: token kite:abcd1234wxyz", "Authorization: token kite*********wxyz"},
		{"openai key", "invalid key sk-ABCDEFGHIJKLMNOPQRSTUV", "invalid key sk-A*****************STUV"},
		{"plain", "option chain: not in snapshot", "option chain: not in snapshot"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MaskSecrets(tt.in))
		})
	}
}
