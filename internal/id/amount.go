package id

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	clierr "github.com/ggonzalez94/xbridge/internal/errors"
)

var decimalPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// ParseAmount converts a human decimal amount ("100.5") into token base units.
func ParseAmount(decimal string, decimals int) (*big.Int, error) {
	clean := strings.TrimSpace(decimal)
	if clean == "" {
		return nil, clierr.New(clierr.CodeUsage, "amount is required")
	}
	if decimals < 0 {
		return nil, clierr.New(clierr.CodeUsage, "decimals must be >= 0")
	}
	if !decimalPattern.MatchString(clean) {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("amount must be a positive decimal like 1.23, got %q", decimal))
	}
	parts := strings.SplitN(clean, ".", 2)
	intPart := parts[0]
	fracPart := ""
	if len(parts) == 2 {
		fracPart = parts[1]
	}
	if len(fracPart) > decimals {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("decimal precision exceeds token decimals (%d)", decimals))
	}
	combined := strings.TrimLeft(intPart+fracPart+strings.Repeat("0", decimals-len(fracPart)), "0")
	if combined == "" {
		return new(big.Int), nil
	}
	out, ok := new(big.Int).SetString(combined, 10)
	if !ok {
		return nil, clierr.New(clierr.CodeUsage, "invalid decimal amount")
	}
	return out, nil
}

// ParseBaseUnits parses a non-negative base unit integer string.
func ParseBaseUnits(v string) (*big.Int, error) {
	clean := strings.TrimSpace(v)
	if clean == "" {
		return new(big.Int), nil
	}
	out, ok := new(big.Int).SetString(clean, 10)
	if !ok || out.Sign() < 0 {
		return nil, fmt.Errorf("invalid base unit amount %q", v)
	}
	return out, nil
}

// FormatAmount converts base units into a trimmed decimal string.
func FormatAmount(baseUnits *big.Int, decimals int) string {
	if baseUnits == nil {
		return "0"
	}
	neg := baseUnits.Sign() < 0
	s := new(big.Int).Abs(baseUnits).String()
	if decimals > 0 {
		if len(s) <= decimals {
			s = strings.Repeat("0", decimals-len(s)+1) + s
		}
		intPart := s[:len(s)-decimals]
		fracPart := strings.TrimRight(s[len(s)-decimals:], "0")
		s = intPart
		if fracPart != "" {
			s = intPart + "." + fracPart
		}
	}
	if neg {
		return "-" + s
	}
	return s
}

// ToFloat is a lossy conversion used only for scoring and display.
func ToFloat(baseUnits *big.Int, decimals int) float64 {
	if baseUnits == nil {
		return 0
	}
	f, _ := new(big.Rat).SetFrac(baseUnits, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)).Float64()
	return f
}
