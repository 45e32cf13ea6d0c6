package execution

import (
	"fmt"
	"math"
	"math/big"
	"strconv"

	clierr "github.com/ggonzalez94/xbridge/internal/errors"
)

// MinAmountOut is amount minus the slippage allowance, rounded so the result
// never exceeds amount and only equals it when slippagePercent is zero.
func MinAmountOut(amount *big.Int, slippagePercent float64) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, clierr.New(clierr.CodeInvalidRequest, "amount must be greater than zero")
	}
	if math.IsNaN(slippagePercent) || slippagePercent < 0 || slippagePercent > 100 {
		return nil, clierr.New(clierr.CodeInvalidRequest, fmt.Sprintf("slippage must be between 0 and 100 percent, got %v", slippagePercent))
	}
	pct, ok := new(big.Rat).SetString(strconv.FormatFloat(slippagePercent, 'f', -1, 64))
	if !ok {
		return nil, clierr.New(clierr.CodeInvalidRequest, "invalid slippage value")
	}

	// deduction = ceil(amount * pct / 100)
	num := new(big.Int).Mul(amount, pct.Num())
	den := new(big.Int).Mul(pct.Denom(), big.NewInt(100))
	deduction, rem := new(big.Int).QuoRem(num, den, new(big.Int))
	if rem.Sign() > 0 {
		deduction.Add(deduction, big.NewInt(1))
	}
	out := new(big.Int).Sub(amount, deduction)
	if out.Sign() < 0 {
		out.SetInt64(0)
	}
	return out, nil
}
