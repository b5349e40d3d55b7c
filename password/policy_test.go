package password

import (
	"errors"
	"testing"
)

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	cases := []struct {
		pw   string
		want []Rule
	}{
		{"Secret123", nil},
		{"short1A", []Rule{RuleLength}},
		{"alllower123", []Rule{RuleUpper}},
		{"ALLUPPER123", []Rule{RuleLower}},
		{"NoDigitsHere", []Rule{RuleDigit}},
		{" Secret123", []Rule{RuleSpace}},
		{"", []Rule{RuleLength, RuleUpper, RuleLower, RuleDigit}},
	}
	for _, tc := range cases {
		err := p.Check(tc.pw)
		if tc.want == nil {
			if err != nil {
				t.Fatalf("Check(%q) = %v, want nil", tc.pw, err)
			}
			continue
		}
		var pe *PolicyError
		if !errors.As(err, &pe) || !errors.Is(err, ErrWeak) {
			t.Fatalf("Check(%q) = %v, want policy error", tc.pw, err)
		}
		if len(pe.Failed) != len(tc.want) {
			t.Fatalf("Check(%q) failed %v, want %v", tc.pw, pe.Failed, tc.want)
		}
		for i := range tc.want {
			if pe.Failed[i] != tc.want[i] {
				t.Fatalf("Check(%q) failed %v, want %v", tc.pw, pe.Failed, tc.want)
			}
		}
	}
}
