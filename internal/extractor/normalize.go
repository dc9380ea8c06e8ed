package extractor

import (
	"regexp"
	"strconv"
	"strings"
)

// digitFold maps Persian and Arabic-Indic digit glyphs to ASCII. Both
// ranges appear on the source site, sometimes within one value.
var digitFold = strings.NewReplacer(
	"۰", "0", "۱", "1", "۲", "2", "۳", "3", "۴", "4",
	"۵", "5", "۶", "6", "۷", "7", "۸", "8", "۹", "9",
	"٠", "0", "١", "1", "٢", "2", "٣", "3", "٤", "4",
	"٥", "5", "٦", "6", "٧", "7", "٨", "8", "٩", "9",
)

var nonDigit = regexp.MustCompile(`[^\d]`)

// compoundPattern matches "a از b" / "a of b" style values, digits already folded.
var compoundPattern = regexp.MustCompile(`(\d+)\s*(?:از|of)\s*(\d+)`)

// FoldDigits converts locale digit glyphs in s to their ASCII equivalents.
func FoldDigits(s string) string {
	return digitFold.Replace(s)
}

// ParseNumber extracts an integer from a locale-digit string, ignoring
// thousand separators and unit suffixes. Returns nil when the string
// carries no digits at all.
func ParseNumber(s string) *int64 {
	if s == "" {
		return nil
	}
	digits := nonDigit.ReplaceAllString(FoldDigits(s), "")
	if digits == "" {
		return nil
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}

// ParseInt is ParseNumber narrowed to int, for fields like rooms and floors.
func ParseInt(s string) *int {
	n := ParseNumber(s)
	if n == nil {
		return nil
	}
	v := int(*n)
	return &v
}

// ParseCompound splits a "current از total" value into its two numbers.
// Both results are populated or both are nil; a partially matching value
// never yields a lone half.
func ParseCompound(s string) (current, total *int) {
	m := compoundPattern.FindStringSubmatch(FoldDigits(s))
	if m == nil {
		return nil, nil
	}
	c, err1 := strconv.Atoi(m[1])
	t, err2 := strconv.Atoi(m[2])
	if err1 != nil || err2 != nil {
		return nil, nil
	}
	return &c, &t
}

// affirmative markers for boolean amenity rows. Anything else means false.
var affirmative = map[string]bool{
	"دارد": true,
	"بله":  true,
	"yes":  true,
	"true": true,
	"on":   true,
	"1":    true,
}

// ParseBool maps a boolean amenity value to true only for the fixed
// affirmative synonym set.
func ParseBool(s string) bool {
	return affirmative[strings.ToLower(strings.TrimSpace(s))]
}

// NormalizePhone folds digits and restores the leading zero the source
// drops from tel: links.
func NormalizePhone(s string) string {
	digits := nonDigit.ReplaceAllString(FoldDigits(s), "")
	if digits == "" {
		return ""
	}
	if len(digits) == 10 && strings.HasPrefix(digits, "9") {
		return "0" + digits
	}
	return digits
}
