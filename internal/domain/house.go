package domain

import "strings"

// DeriveHouse implements the house-derivation case rule: a title mentioning
// both chambers is "all"; a title mentioning exactly one chamber is that
// chamber; otherwise "unspecified". Matching is case-insensitive.
func DeriveHouse(title string) House {
	lower := strings.ToLower(title)
	hasAssembly := strings.Contains(lower, "national assembly")
	hasSenate := strings.Contains(lower, "senate")

	switch {
	case hasAssembly && hasSenate:
		return HouseAll
	case hasAssembly:
		return HouseNationalAssembly
	case hasSenate:
		return HouseSenate
	default:
		return HouseUnspecified
	}
}
