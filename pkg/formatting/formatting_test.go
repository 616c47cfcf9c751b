package formatting_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaimeStill/assay/pkg/formatting"
)

func TestParseBytes(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"25MB", 25 << 20},
		{"100 mb", 100 << 20},
		{"1.5KB", 1536},
		{"512", 512},
		{" 2 gb ", 2 << 30},
	}
	for _, tt := range tests {
		got, err := formatting.ParseBytes(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, bad := range []string{"", "MB", "12 parsecs", "-5MB", "1..5MB", "9000000TB", "5PB"} {
		_, err := formatting.ParseBytes(bad)
		assert.Error(t, err, bad)
	}
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "0 B", formatting.FormatBytes(0, 1))
	assert.Equal(t, "1.5 KB", formatting.FormatBytes(1536, 1))
	assert.Equal(t, "25 MB", formatting.FormatBytes(25<<20, 0))
	assert.Equal(t, "1023 B", formatting.FormatBytes(1023, 0))
	assert.Equal(t, "2048 TB", formatting.FormatBytes(2<<50, 0))
	assert.Equal(t, "-1.5 KB", formatting.FormatBytes(-1536, 1))
}

func TestFormatMegabytes(t *testing.T) {
	assert.Equal(t, "25MB", formatting.FormatMegabytes(25<<20, -1))
	assert.Equal(t, "30.0MB", formatting.FormatMegabytes(30<<20, 1))
	assert.Equal(t, "0.5MB", formatting.FormatMegabytes(1<<19, -1))
}

func TestParse(t *testing.T) {
	type payload struct {
		Grade string `json:"grade"`
	}

	got, err := formatting.Parse[payload](`{"grade":"A"}`)
	require.NoError(t, err)
	assert.Equal(t, "A", got.Grade)

	got, err = formatting.Parse[payload]("Result:\n```json\n{\"grade\":\"B\"}\n```\n")
	require.NoError(t, err)
	assert.Equal(t, "B", got.Grade)

	got, err = formatting.Parse[payload](`The audit grades as {"grade":"C"} overall.`)
	require.NoError(t, err)
	assert.Equal(t, "C", got.Grade)

	_, err = formatting.Parse[payload]("no json here")
	assert.ErrorIs(t, err, formatting.ErrParseFailed)

	_, err = formatting.Parse[payload](strings.Repeat("x", 500))
	require.ErrorIs(t, err, formatting.ErrParseFailed)
	assert.Less(t, len(err.Error()), 260)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", formatting.Truncate("short", 10))
	assert.Equal(t, "abc...", formatting.Truncate("abcdef", 3))
	assert.Equal(t, "a...", formatting.Truncate("aé", 2), "never splits a rune")
}
