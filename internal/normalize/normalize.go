// Package normalize converts raw strings read off the source UI into
// canonical field values. All functions are pure.
package normalize

import (
	"fmt"
	"strings"
)

// countryPrefix is prepended to local numbers that carry no own prefix.
const countryPrefix = "54"

// Currency parses an amount like "$ 1.234,56" or "USD 1.234,56" into a
// decimal string ("1234.56"). The source displays balances for every
// patient but only amounts flagged as debt count; non-flagged amounts
// yield "0". The flag is a caller-supplied predicate result, not
// re-derived here.
func Currency(raw string, isDebt bool) string {
	if !isDebt {
		return "0"
	}
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "USD")
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "\t", "")
	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, ",", ".")
	if s == "" {
		return "0"
	}
	return s
}

// AssembleDate composes YYYY-MM-DD from separate day/month/year
// components, zero-padding day and month. Any missing component yields
// the empty string, never a partial date.
func AssembleDate(day, month, year string) string {
	if day == "" || month == "" || year == "" {
		return ""
	}
	return fmt.Sprintf("%s-%s-%s", year, pad2(month), pad2(day))
}

// ReformatDate converts DD/MM/YYYY to YYYY-MM-DD. Anything that is not
// a three-part slash date passes through unchanged.
func ReformatDate(s string) string {
	if !strings.Contains(s, "/") {
		return s
	}
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return s
	}
	return fmt.Sprintf("%s-%s-%s", parts[2], pad2(parts[1]), pad2(parts[0]))
}

// Phone strips non-digits and splits a raw phone into dialing prefix
// and local number. More than 10 digits: the trailing 8 are the local
// number and the rest the prefix. Exactly 10: a full national number,
// prefixed with the country code. 1-9 digits: a bare local number,
// also prefixed with the country code. Empty stays empty.
func Phone(raw string) (prefix, number string) {
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	switch {
	case len(d) > 10:
		return d[:len(d)-8], d[len(d)-8:]
	case len(d) == 10:
		return countryPrefix, d
	case len(d) > 0:
		return countryPrefix, d
	default:
		return "", ""
	}
}

// SplitFullName splits "LASTNAME Name Second" on whitespace: the first
// token is the surname, the rest (joined by single spaces) the given
// names. A single-token input is used for both fields, matching the
// source's own display convention.
func SplitFullName(full string) (lastname, name string) {
	parts := strings.Fields(full)
	if len(parts) == 0 {
		return "", ""
	}
	lastname = parts[0]
	name = strings.Join(parts[1:], " ")
	if name == "" {
		name = parts[0]
	}
	return lastname, name
}

// Gender maps the source's free-text gender label to an enumerated
// code: 1=male, 2=female, 3=other. Empty input yields an empty code.
func Gender(label string) string {
	l := strings.ToLower(strings.TrimSpace(label))
	switch {
	case l == "":
		return ""
	case strings.Contains(l, "femenino") || strings.Contains(l, "female"):
		return "2"
	case strings.Contains(l, "masculino") || strings.Contains(l, "male"):
		return "1"
	default:
		return "3"
	}
}

func pad2(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}
