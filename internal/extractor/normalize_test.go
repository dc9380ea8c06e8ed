package extractor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFoldDigits(t *testing.T) {
	assert.Equal(t, "1372", FoldDigits("۱۳۷۲"))
	assert.Equal(t, "123456789", FoldDigits("١٢٣۴۵۶٧٨٩"))
	assert.Equal(t, "طبقه 2 از 4", FoldDigits("طبقه ۲ از ۴"))
	assert.Equal(t, "plain", FoldDigits("plain"))
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  *int64
	}{
		{"persian digits with separators", "۱٬۲۵۰٬۰۰۰٬۰۰۰ تومان", ptr64(1250000000)},
		{"ascii digits", "85 متر", ptr64(85)},
		{"mixed glyphs", "۱2۳", ptr64(123)},
		{"no digits", "توافقی", nil},
		{"empty", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseNumber(tt.input)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, *tt.want, *got)
		})
	}
}

func TestParseCompound(t *testing.T) {
	cur, total := ParseCompound("۲ از ۴")
	require.NotNil(t, cur)
	require.NotNil(t, total)
	assert.Equal(t, 2, *cur)
	assert.Equal(t, 4, *total)

	cur, total = ParseCompound("2 of 4")
	require.NotNil(t, cur)
	assert.Equal(t, 2, *cur)
	assert.Equal(t, 4, *total)
}

func TestParseCompound_BothOrNothing(t *testing.T) {
	// A value that fails to match must not yield a lone half.
	for _, input := range []string{"N/A", "۲ از", "از ۴", "", "همکف"} {
		cur, total := ParseCompound(input)
		assert.Nil(t, cur, "input %q", input)
		assert.Nil(t, total, "input %q", input)
	}
}

func TestParseBool(t *testing.T) {
	assert.True(t, ParseBool("دارد"))
	assert.True(t, ParseBool(" دارد "))
	assert.True(t, ParseBool("بله"))
	assert.True(t, ParseBool("Yes"))

	assert.False(t, ParseBool("ندارد"))
	assert.False(t, ParseBool("خیر"))
	assert.False(t, ParseBool(""))
	assert.False(t, ParseBool("2"))
}

func TestNormalizePhone(t *testing.T) {
	assert.Equal(t, "09123456789", NormalizePhone("9123456789"))
	assert.Equal(t, "09123456789", NormalizePhone("۰۹۱۲۳۴۵۶۷۸۹"))
	assert.Equal(t, "09123456789", NormalizePhone("0912 345 6789"))
	assert.Equal(t, "", NormalizePhone("تماس"))
}

func ptr64(v int64) *int64 { return &v }
