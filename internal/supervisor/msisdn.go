package supervisor

import (
	"regexp"
	"strings"
)

var msisdnPattern = regexp.MustCompile(`^\d{8,15}$`)

// normaliseMSISDN strips spaces, dashes and parentheses, drops a leading
// "+", and rewrites a leading "0" to defaultCountryPrefix. The result must
// be 8 to 15 digits.
func normaliseMSISDN(raw, defaultCountryPrefix string) (string, bool) {
	replacer := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "")
	cleaned := replacer.Replace(raw)
	cleaned = strings.TrimPrefix(cleaned, "+")

	if strings.HasPrefix(cleaned, "0") {
		cleaned = defaultCountryPrefix + strings.TrimPrefix(cleaned, "0")
	}

	if !msisdnPattern.MatchString(cleaned) {
		return "", false
	}
	return cleaned, true
}
