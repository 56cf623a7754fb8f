package verify

import "regexp"

// Verification links come in two shapes: a query parameter
// (...?verificationId=abc123) or a path segment (.../verify/abc123).
// The query form wins when both are present.
var (
	queryIDPattern = regexp.MustCompile(`verificationId=([a-zA-Z0-9]+)`)
	pathIDPattern  = regexp.MustCompile(`verify/([a-zA-Z0-9]+)`)
)

// ExtractID pulls the verification ID out of a verification link or raw
// input line. Returns the ID and true on a match, "" and false otherwise.
func ExtractID(link string) (string, bool) {
	if m := queryIDPattern.FindStringSubmatch(link); m != nil {
		return m[1], true
	}
	if m := pathIDPattern.FindStringSubmatch(link); m != nil {
		return m[1], true
	}
	return "", false
}
