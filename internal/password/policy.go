package password

import (
	"strings"
	"unicode"
)

// commonPasswords is a small denylist of frequently breached passwords,
// compared case-insensitively.
var commonPasswords = map[string]struct{}{
	"password":    {},
	"password123": {},
	"12345678":    {},
	"123456789":   {},
	"1234567890":  {},
	"qwerty123":   {},
	"qwertyuiop":  {},
	"iloveyou":    {},
	"letmein123":  {},
	"admin123":    {},
	"welcome1":    {},
}

// Policy is the configurable password strength policy. All enabled checks
// are independent and all must pass; validation order only determines which
// failing rule gets reported first.
type Policy struct {
	MinLength        int  `json:"minLength"`
	RequireLowercase bool `json:"requireLowercase"`
	RequireUppercase bool `json:"requireUppercase"`
	RequireDigit     bool `json:"requireDigit"`
	RequireSymbol    bool `json:"requireSymbol"`
}

// Validate returns the first failing rule as a human-readable reason, or ""
// when the password satisfies the policy.
func (p Policy) Validate(plaintext string) string {
	if len(plaintext) < p.MinLength {
		return "password is too short"
	}

	var lower, upper, digit, symbol bool
	for _, r := range plaintext {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		default:
			symbol = true
		}
	}

	if p.RequireLowercase && !lower {
		return "password must contain a lowercase letter"
	}
	if p.RequireUppercase && !upper {
		return "password must contain an uppercase letter"
	}
	if p.RequireDigit && !digit {
		return "password must contain a digit"
	}
	if p.RequireSymbol && !symbol {
		return "password must contain a symbol"
	}

	classes := 0
	for _, present := range []bool{lower, upper, digit, symbol} {
		if present {
			classes++
		}
	}
	if classes < 2 {
		return "password must mix at least two character classes"
	}

	if _, found := commonPasswords[strings.ToLower(plaintext)]; found {
		return "password is too common"
	}

	return ""
}
