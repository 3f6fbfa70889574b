package budget

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncateFits(t *testing.T) {
	text := "напомни позвонить Ивану"
	assert.Equal(t, text, Truncate(text, utf8.RuneCountInString(text)))
	assert.Equal(t, text, Truncate(text, 1000))
	assert.Equal(t, "", Truncate("", 5))
}

func TestTruncateBounds(t *testing.T) {
	inputs := []string{
		strings.Repeat("a", 10),
		strings.Repeat("я", 37),
		strings.Repeat("abcдеж", 900),
		strings.Repeat("x", 12001),
	}
	for _, in := range inputs {
		for max := 1; max <= 80; max++ {
			out := Truncate(in, max)
			require.LessOrEqualf(t, utf8.RuneCountInString(out), max, "max=%d len=%d", max, utf8.RuneCountInString(in))
			require.True(t, utf8.ValidString(out))
		}
		for _, max := range []int{100, 999, 3000, 4000, 12000} {
			out := Truncate(in, max)
			require.LessOrEqual(t, utf8.RuneCountInString(out), max)
		}
	}
}

func TestTruncateKeepsHeadAndTail(t *testing.T) {
	in := strings.Repeat("h", 5000) + strings.Repeat("t", 5000)
	out := Truncate(in, 4000)

	require.Equal(t, 4000, utf8.RuneCountInString(out))
	assert.True(t, strings.HasPrefix(out, "hhhh"))
	assert.True(t, strings.HasSuffix(out, strings.Repeat("t", 1000)))
	assert.Contains(t, out, Separator)
}

func TestTruncateTailShare(t *testing.T) {
	in := strings.Repeat("0123456789", 10)
	out := Truncate(in, 30)

	// tail = 30/3 = 10 characters, head = 30 - 10 - 5
	assert.Equal(t, in[:15]+Separator+in[90:], out)
}

func TestTruncateTinyBudgets(t *testing.T) {
	in := "abcdefghijklmnop"
	assert.Equal(t, "", Truncate(in, 0))
	assert.Equal(t, "", Truncate(in, -3))
	assert.Equal(t, "abc", Truncate(in, 3))

	out := Truncate(in, 6)
	assert.Equal(t, 6, utf8.RuneCountInString(out))
	assert.Contains(t, out, Separator)
}
