package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Code is a stable, machine-readable error type mapped to process exit codes.
type Code int

const (
	CodeSuccess     Code = 0
	CodeInternal    Code = 1
	CodeUsage       Code = 2
	CodeAuth        Code = 10
	CodeRateLimited Code = 11
	CodeUnavailable Code = 12
	CodeUnsupported Code = 13
	CodeSigner      Code = 14
	CodeTimeout     Code = 15

	CodeUnsupportedChain      Code = 20
	CodeUnsupportedAsset      Code = 21
	CodeNoSupportedProvider   Code = 22
	CodeNoValidRoute          Code = 23
	CodeInsufficientBalance   Code = 24
	CodeInsufficientGas       Code = 25
	CodeAllowanceFailure      Code = 26
	CodeFeeQuoteFailure       Code = 27
	CodeSlippageExceeded      Code = 28
	CodeExecutionFailure      Code = 29
	CodeMonitoringUnavailable Code = 30
)

// CodeInvalidRequest is the usage code as seen by the execution engine.
const CodeInvalidRequest = CodeUsage

var codeTypes = map[Code]string{
	CodeSuccess:               "ok",
	CodeInternal:              "internal_error",
	CodeUsage:                 "invalid_request",
	CodeAuth:                  "auth_error",
	CodeRateLimited:           "rate_limited",
	CodeUnavailable:           "provider_unavailable",
	CodeUnsupported:           "unsupported",
	CodeSigner:                "signer_error",
	CodeTimeout:               "timeout",
	CodeUnsupportedChain:      "unsupported_chain",
	CodeUnsupportedAsset:      "unsupported_asset",
	CodeNoSupportedProvider:   "no_supported_provider",
	CodeNoValidRoute:          "no_valid_route",
	CodeInsufficientBalance:   "insufficient_balance",
	CodeInsufficientGas:       "insufficient_gas",
	CodeAllowanceFailure:      "allowance_failure",
	CodeFeeQuoteFailure:       "fee_quote_failure",
	CodeSlippageExceeded:      "slippage_exceeded",
	CodeExecutionFailure:      "execution_failure",
	CodeMonitoringUnavailable: "monitoring_unavailable",
}

func (c Code) String() string {
	if v, ok := codeTypes[c]; ok {
		return v
	}
	return "internal_error"
}

// Retryable reports whether a caller may reasonably retry the same request later.
func (c Code) Retryable() bool {
	switch c {
	case CodeRateLimited, CodeUnavailable, CodeTimeout, CodeAllowanceFailure, CodeFeeQuoteFailure:
		return true
	default:
		return false
	}
}

// Error is a typed error that carries a stable error code.
type Error struct {
	Code    Code
	Message string
	Cause   error
	Details map[string]string
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// WithDetail attaches a diagnostic key/value (shortfalls, raw revert data) and returns e.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = map[string]string{}
	}
	e.Details[key] = value
	return e
}

// DetailString renders details as sorted key=value pairs.
func (e *Error) DetailString() string {
	if len(e.Details) == 0 {
		return ""
	}
	keys := make([]string, 0, len(e.Details))
	for k := range e.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+e.Details[k])
	}
	return strings.Join(parts, " ")
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code Code) bool {
	for err != nil {
		var target *Error
		if !errors.As(err, &target) {
			return false
		}
		if target.Code == code {
			return true
		}
		err = target.Cause
	}
	return false
}

func ExitCode(err error) int {
	if err == nil {
		return int(CodeSuccess)
	}
	if cliErr, ok := As(err); ok {
		return int(cliErr.Code)
	}
	return int(CodeInternal)
}
