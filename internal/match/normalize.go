package match

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// companySuffixes strips common legal entity suffixes before company
// comparison, so "Acme Corp" and "Acme Corporation" normalize identically.
var companySuffixes = regexp.MustCompile(
	`(?i)\s*,?\s*(LLC|L\.?L\.?C\.?|INC\.?|INCORPORATED|CORP\.?|CORPORATION|` +
		`CO\.?|COMPANY|LTD\.?|LIMITED|L\.?P\.?|LLP|L\.?L\.?P\.?|` +
		`PLLC|P\.?L\.?L\.?C\.?|P\.?C\.?|GMBH|S\.?A\.?|DBA|D/B/A)\s*\.?\s*$`)

var multiSpace = regexp.MustCompile(`\s{2,}`)

var nonDigit = regexp.MustCompile(`\D`)

// diacriticFold removes combining marks after NFD decomposition, so
// "José" and "Jose" compare equal.
var diacriticFold = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ExtractDomain returns the lower-cased domain part of an email address,
// or "" when the input is not an address.
func ExtractDomain(email string) string {
	e := NormalizeEmail(email)
	at := strings.LastIndex(e, "@")
	if at < 0 || at == len(e)-1 {
		return ""
	}
	return e[at+1:]
}

// NormalizePhone strips every non-digit character from a raw phone string.
func NormalizePhone(raw string) string {
	return nonDigit.ReplaceAllString(raw, "")
}

// PhoneKey returns the comparison key for a digit string. Numbers with a
// possible leading country code (11+ digits) compare on their last 10
// digits; shorter numbers compare whole.
func PhoneKey(digits string) string {
	if len(digits) > 10 {
		return digits[len(digits)-10:]
	}
	return digits
}

// NormalizeName folds case and diacritics, replaces punctuation with
// spaces, and collapses whitespace. Pure and total; "" in, "" out.
func NormalizeName(name string) string {
	n := strings.TrimSpace(name)
	if n == "" {
		return ""
	}
	if folded, _, err := transform.String(diacriticFold, n); err == nil {
		n = folded
	}
	n = strings.ToLower(n)
	var b strings.Builder
	b.Grow(len(n))
	for _, r := range n {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}
	n = multiSpace.ReplaceAllString(b.String(), " ")
	return strings.TrimSpace(n)
}

// NormalizeCompany strips legal suffixes then applies name normalization.
func NormalizeCompany(company string) string {
	c := strings.TrimSpace(company)
	if c == "" {
		return ""
	}
	c = companySuffixes.ReplaceAllString(c, "")
	return NormalizeName(c)
}

// CompanyPrefixToken returns the first token of the normalized company
// name, used to bound candidate lookups in the lead store.
func CompanyPrefixToken(company string) string {
	nc := NormalizeCompany(company)
	if nc == "" {
		return ""
	}
	if i := strings.IndexByte(nc, ' '); i > 0 {
		return nc[:i]
	}
	return nc
}
