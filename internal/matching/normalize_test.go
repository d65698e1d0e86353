package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"punctuation and case", "WO-12 345", "wo12345"},
		{"only separators", " -_/#", ""},
		{"full width", "ＷＯ－７７８", "wo778"},
		{"accents dropped", "Crème-Brûlée 7", "cremebrulee7"},
		{"ligature folds", "ﬁx-9", "fix9"},
		{"already canonical", "abc123", "abc123"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"WO-123", "ＷＯ－７７８", "  a.b.c  ", "Ünïcödé #9", "", "---"} {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "input %q", in)
	}
}

func TestNormalizePtr(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", NormalizePtr(nil))
	s := "WO-1"
	assert.Equal(t, "wo1", NormalizePtr(&s))
}
