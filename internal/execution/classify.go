package execution

import (
	"errors"
	"strings"

	"github.com/ggonzalez94/xbridge/internal/chain"
	clierr "github.com/ggonzalez94/xbridge/internal/errors"
)

// Revert fragments bridge routers use when the realized output is below the
// caller's minimum.
var slippageMarkers = []string{
	"slippage",
	"amountoutmin",
	"minamount",
	"too little received",
	"insufficient output",
	"bonder fee too high",
	"min amount",
}

// passthrough codes are already meaningful to callers and are not reclassified.
var passthrough = map[clierr.Code]bool{
	clierr.CodeUsage:                 true,
	clierr.CodeSigner:                true,
	clierr.CodeTimeout:               true,
	clierr.CodeRateLimited:           true,
	clierr.CodeUnavailable:           true,
	clierr.CodeUnsupportedChain:      true,
	clierr.CodeUnsupportedAsset:      true,
	clierr.CodeNoSupportedProvider:   true,
	clierr.CodeNoValidRoute:          true,
	clierr.CodeInsufficientBalance:   true,
	clierr.CodeInsufficientGas:       true,
	clierr.CodeAllowanceFailure:      true,
	clierr.CodeFeeQuoteFailure:       true,
	clierr.CodeSlippageExceeded:      true,
	clierr.CodeMonitoringUnavailable: true,
}

// Classify maps any execution error onto the bridge error taxonomy. Raw
// revert strings only travel as details.
func Classify(provider string, err error) error {
	if err == nil {
		return nil
	}
	reason := revertReason(err)

	if cliErr, ok := clierr.As(err); ok && passthrough[cliErr.Code] && cliErr.Code != clierr.CodeUnavailable {
		return err
	}
	if isSlippage(reason) || isSlippage(err.Error()) {
		out := clierr.Wrap(clierr.CodeSlippageExceeded, provider+": output would fall below the minimum; raise slippage tolerance or re-quote", err)
		if reason != "" {
			out = out.WithDetail("revert_reason", reason)
		}
		return out
	}
	if cliErr, ok := clierr.As(err); ok {
		switch {
		case cliErr.Code == clierr.CodeUnavailable:
			return err
		case cliErr.Code == clierr.CodeExecutionFailure && reason == "":
			return err
		}
	}
	out := clierr.Wrap(clierr.CodeExecutionFailure, provider+": bridge transfer failed", err)
	if reason != "" {
		out = out.WithDetail("revert_reason", reason)
	}
	return out
}

// revertReason finds a decoded revert reason anywhere in the error chain.
func revertReason(err error) string {
	for cur := err; cur != nil; cur = errors.Unwrap(cur) {
		if cliErr, ok := cur.(*clierr.Error); ok {
			if v := strings.TrimSpace(cliErr.Details["revert_reason"]); v != "" {
				return v
			}
			continue
		}
		if v, _ := chain.RevertReason(cur); v != "" {
			return v
		}
	}
	return ""
}

func isSlippage(text string) bool {
	lower := strings.ToLower(text)
	if lower == "" {
		return false
	}
	for _, marker := range slippageMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
