package patterns

import (
	"regexp"

	"github.com/natserract/sfclean/pkg/resource"
)

var piiPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)e[-_]?mail`),
	regexp.MustCompile(`(?i)phone|mobile|cell[-_ ]?number`),
	regexp.MustCompile(`(?i)first[-_ ]?name|last[-_ ]?name|full[-_ ]?name|surname`),
	regexp.MustCompile(`(?i)address|street|city|zip|postal`),
	regexp.MustCompile(`(?i)birth|dob`),
	regexp.MustCompile(`(?i)ssn|social[-_ ]?security|national[-_ ]?id|passport`),
	regexp.MustCompile(`(?i)credit[-_ ]?card|card[-_ ]?number|iban|account[-_ ]?number`),
	regexp.MustCompile(`(?i)ip[-_ ]?address`),
}

// IsPII reports whether a field name looks like personal data.
func IsPII(fieldName string) bool {
	for _, re := range piiPatterns {
		if re.MatchString(fieldName) {
			return true
		}
	}
	return false
}

// DetectPII returns the names of fields that look like personal data.
func DetectPII(fields []resource.Field) []string {
	var out []string
	for _, f := range fields {
		if IsPII(f.Name) {
			out = append(out, f.Name)
		}
	}
	return out
}
