package sizenorm_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"retailsync/internal/sizenorm"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		name         string
		raw          string
		wantCanon    string
		wantOriginal string
	}{
		{"half fraction", "23½", "23.5", "23½"},
		{"quarter fraction", "8¼", "8.25", "8¼"},
		{"three quarter fraction", " 9¾ ", "9.75", "9¾"},
		{"comma decimal", "38,5", "38.5", "38,5"},
		{"letter size untouched", "M", "M", ""},
		{"slash size untouched", "38/40", "38/40", ""},
		{"surrounding whitespace trimmed", "  XL  ", "XL", ""},
		{"empty input", "", "", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			canon, original := sizenorm.Normalize(tc.raw)
			assert.Equal(t, tc.wantCanon, canon)
			assert.Equal(t, tc.wantOriginal, original)
		})
	}
}

func TestNormalize_IsIdempotentOnCanonicalForm(t *testing.T) {
	inputs := []string{"23½", "38,5", "M", "38/40", "9¾"}
	for _, raw := range inputs {
		canon, _ := sizenorm.Normalize(raw)
		reCanon, reOriginal := sizenorm.Normalize(canon)
		assert.Equal(t, canon, reCanon, "raw=%q", raw)
		assert.Empty(t, reOriginal, "raw=%q", raw)
	}
}
