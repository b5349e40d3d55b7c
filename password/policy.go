package password

import (
	"errors"
	"strings"
	"unicode"
)

// ErrWeak is matched by every policy violation.
var ErrWeak = errors.New("password does not meet policy")

// Rule names one requirement of the policy.
type Rule string

const (
	RuleLength Rule = "length"
	RuleUpper  Rule = "uppercase"
	RuleLower  Rule = "lowercase"
	RuleDigit  Rule = "digit"
	RuleSpace  Rule = "whitespace"
)

// Policy is the set of requirements a new password must meet.
type Policy struct {
	MinLength    int
	MaxLength    int
	RequireUpper bool
	RequireLower bool
	RequireDigit bool
}

// DefaultPolicy requires at least 8 characters with an upper-case letter, a
// lower-case letter and a digit.
func DefaultPolicy() Policy {
	return Policy{
		MinLength:    8,
		MaxLength:    128,
		RequireUpper: true,
		RequireLower: true,
		RequireDigit: true,
	}
}

// Validate reports a policy no password can satisfy.
func (p Policy) Validate() error {
	if p.MinLength < 1 {
		return errors.New("password MinLength must be >= 1")
	}
	if p.MaxLength != 0 && p.MaxLength < p.MinLength {
		return errors.New("password MaxLength must be >= MinLength")
	}
	return nil
}

// PolicyError lists the rules a password failed.
type PolicyError struct {
	Failed []Rule
}

func (e *PolicyError) Error() string {
	parts := make([]string, len(e.Failed))
	for i, r := range e.Failed {
		parts[i] = string(r)
	}
	return ErrWeak.Error() + ": " + strings.Join(parts, ", ")
}

func (e *PolicyError) Is(target error) bool {
	return target == ErrWeak
}

// Check returns nil or a *PolicyError.
func (p Policy) Check(pw string) error {
	var failed []Rule

	n := len([]rune(pw))
	if n < p.MinLength || (p.MaxLength > 0 && n > p.MaxLength) {
		failed = append(failed, RuleLength)
	}
	if strings.TrimSpace(pw) != pw {
		failed = append(failed, RuleSpace)
	}

	var upper, lower, digit bool
	for _, r := range pw {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if p.RequireUpper && !upper {
		failed = append(failed, RuleUpper)
	}
	if p.RequireLower && !lower {
		failed = append(failed, RuleLower)
	}
	if p.RequireDigit && !digit {
		failed = append(failed, RuleDigit)
	}

	if len(failed) == 0 {
		return nil
	}
	return &PolicyError{Failed: failed}
}
