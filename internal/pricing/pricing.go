package pricing

import (
	"fmt"
	"math/big"
	"strings"
	"unicode/utf8"
)

const (
	MinDomainLength = 1
	MaxDomainLength = 10

	// NativeDecimals is the exponent used to move from a decimal amount to the
	// chain's smallest unit.
	NativeDecimals = 18
)

// priceTable is indexed by name length; anything past the end pays the floor.
var priceTable = []string{
	1: "0.4",
	2: "0.3",
	3: "0.2",
}

const floorPrice = "0.1"

// PriceFor returns the registration price, in native currency, as a decimal
// string.
func PriceFor(nameLength int) string {
	if nameLength > 0 && nameLength < len(priceTable) {
		return priceTable[nameLength]
	}
	return floorPrice
}

// DomainLength counts characters the way users see them.
func DomainLength(domain string) int {
	return utf8.RuneCountInString(domain)
}

// ValidLength reports whether a name can be registered.
func ValidLength(domain string) bool {
	n := DomainLength(domain)
	return n >= MinDomainLength && n <= MaxDomainLength
}

// ToWei converts a decimal string such as "0.4" into the smallest currency
// unit using integer arithmetic only.
func ToWei(amount string) (*big.Int, error) {
	return ToUnits(amount, NativeDecimals)
}

// ToUnits converts a non-negative decimal string into an integer scaled by
// 10^decimals. More fractional digits than decimals is an error.
func ToUnits(amount string, decimals int) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return nil, fmt.Errorf("empty amount")
	}

	whole, frac, hasDot := strings.Cut(amount, ".")
	if hasDot && frac == "" && whole == "" {
		return nil, fmt.Errorf("invalid amount %q", amount)
	}
	if whole == "" {
		whole = "0"
	}
	if !isDigits(whole) || (hasDot && frac != "" && !isDigits(frac)) {
		return nil, fmt.Errorf("invalid amount %q", amount)
	}
	if len(frac) > decimals {
		return nil, fmt.Errorf("amount %q has more than %d fractional digits", amount, decimals)
	}

	digits := whole + frac + strings.Repeat("0", decimals-len(frac))
	result, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", amount)
	}
	return result, nil
}

// FromWei renders a wei amount as a trimmed decimal string.
func FromWei(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	s := wei.String()
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	if len(s) <= NativeDecimals {
		s = strings.Repeat("0", NativeDecimals-len(s)+1) + s
	}
	whole := s[:len(s)-NativeDecimals]
	frac := strings.TrimRight(s[len(s)-NativeDecimals:], "0")
	out := whole
	if frac != "" {
		out += "." + frac
	}
	if neg {
		out = "-" + out
	}
	return out
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
