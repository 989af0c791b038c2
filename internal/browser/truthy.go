// internal/browser/truthy.go
package browser

import "strings"

var truthy = map[string]bool{
	"true":    true,
	"1":       true,
	"yes":     true,
	"y":       true,
	"on":      true,
	"checked": true,
	"x":       true,
	"✓":       true,
	"✔":       true,
}

// IsTruthy reports whether a spreadsheet cell means "checked".
func IsTruthy(s string) bool {
	return truthy[strings.ToLower(strings.TrimSpace(s))]
}
