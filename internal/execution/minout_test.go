package execution

import (
	"errors"
	"fmt"
	"math/big"
	"testing"

	clierr "github.com/ggonzalez94/xbridge/internal/errors"
)

func TestMinAmountOutNeverExceedsAmount(t *testing.T) {
	amounts := []int64{1, 7, 99, 1_000_000, 123_456_789}
	slippages := []float64{0, 0.01, 0.1, 0.3, 0.5, 1, 3.3333, 50, 99.999, 100}
	for _, a := range amounts {
		amount := big.NewInt(a)
		for _, pct := range slippages {
			got, err := MinAmountOut(amount, pct)
			if err != nil {
				t.Fatalf("MinAmountOut(%d, %v): %v", a, pct, err)
			}
			if got.Cmp(amount) > 0 {
				t.Fatalf("MinAmountOut(%d, %v) = %s exceeds amount", a, pct, got)
			}
			if (got.Cmp(amount) == 0) != (pct == 0) {
				t.Fatalf("MinAmountOut(%d, %v) = %s: equality must hold only at zero slippage", a, pct, got)
			}
			if got.Sign() < 0 {
				t.Fatalf("negative min out %s", got)
			}
		}
	}
}

func TestMinAmountOutRoundsDeductionUp(t *testing.T) {
	got, _ := MinAmountOut(big.NewInt(100_000_000), 0.5)
	if got.String() != "99500000" {
		t.Fatalf("expected 99500000, got %s", got)
	}
	// 0.3% of 1001 is 3.003, so 4 units are withheld.
	got, _ = MinAmountOut(big.NewInt(1001), 0.3)
	if got.String() != "997" {
		t.Fatalf("expected 997, got %s", got)
	}
}

func TestMinAmountOutRejectsBadInput(t *testing.T) {
	cases := []struct {
		amount *big.Int
		pct    float64
	}{
		{big.NewInt(0), 1},
		{big.NewInt(-5), 1},
		{nil, 1},
		{big.NewInt(10), -0.1},
		{big.NewInt(10), 100.5},
	}
	for _, tc := range cases {
		_, err := MinAmountOut(tc.amount, tc.pct)
		if cliErr, ok := clierr.As(err); !ok || cliErr.Code != clierr.CodeInvalidRequest {
			t.Fatalf("expected invalid request for %v/%v, got %v", tc.amount, tc.pct, err)
		}
	}
}

func TestClassify(t *testing.T) {
	if Classify("hop", nil) != nil {
		t.Fatal("expected nil passthrough")
	}

	allowance := clierr.New(clierr.CodeAllowanceFailure, "approval reverted")
	if got := Classify("hop", allowance); got != allowance {
		t.Fatalf("expected allowance failure to pass through, got %v", got)
	}

	raw := errors.New("execution reverted: amountOutMin not met")
	got := Classify("hop", fmt.Errorf("send: %w", raw))
	cliErr, ok := clierr.As(got)
	if !ok || cliErr.Code != clierr.CodeSlippageExceeded {
		t.Fatalf("expected slippage exceeded, got %v", got)
	}
	if cliErr.Details["revert_reason"] != "amountOutMin not met" {
		t.Fatalf("unexpected details %+v", cliErr.Details)
	}

	got = Classify("hop", errors.New("nonce too low"))
	cliErr, ok = clierr.As(got)
	if !ok || cliErr.Code != clierr.CodeExecutionFailure {
		t.Fatalf("expected unclassified errors to become execution failures, got %v", got)
	}

	unavailable := clierr.Wrap(clierr.CodeUnavailable, "broadcast transaction", errors.New("connection refused"))
	if got := Classify("hop", unavailable); got != unavailable {
		t.Fatalf("expected transport errors to pass through, got %v", got)
	}
}
