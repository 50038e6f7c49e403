// Package safety blocks messages that leak contact details off the
// platform: phone numbers, email addresses and external links.
package safety

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// Broad email match
	emailPattern = regexp.MustCompile(`\b[\w.-]+@[\w.-]+\.\w{2,4}\b`)

	// Aggressive phone match: 10+ digits in common groupings, with
	// optional country code and separators
	phonePattern = regexp.MustCompile(`(\+?\d{1,3}[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}`)

	// http/https URLs, www hosts and bare common-TLD hostnames
	linkPattern = regexp.MustCompile(`(?i)(https?://\S+)|(www\.\S+)|(\b\w+\.(com|net|org|io|me)\b)`)
)

// Verdict is the outcome of a message safety check.
type Verdict struct {
	IsSafe     bool
	Violations []string
	Reason     string
}

// CheckMessage scans text for platform-leakage patterns. Applied to
// text messages only; image and system messages bypass it.
func CheckMessage(text string) Verdict {
	var violations []string

	if emailPattern.MatchString(text) {
		violations = append(violations, "Email Address")
	}
	if phonePattern.MatchString(text) {
		violations = append(violations, "Phone Number")
	}
	if linkPattern.MatchString(text) {
		violations = append(violations, "External Link")
	}

	if len(violations) == 0 {
		return Verdict{IsSafe: true}
	}

	return Verdict{
		IsSafe:     false,
		Violations: violations,
		Reason:     fmt.Sprintf("Message blocked: Contains hidden %s.", strings.Join(violations, ", ")),
	}
}
