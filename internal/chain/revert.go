package chain

import (
	"encoding/hex"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"

	clierr "github.com/ggonzalez94/xbridge/internal/errors"
)

// dataError is implemented by go-ethereum rpc errors that carry revert data.
type dataError interface {
	ErrorData() interface{}
}

// RevertReason extracts a human readable revert reason and the raw revert
// payload from an RPC error. Custom errors come back as their 4-byte selector.
func RevertReason(err error) (reason string, data []byte) {
	if err == nil {
		return "", nil
	}
	var de dataError
	if errors.As(err, &de) {
		if raw, ok := de.ErrorData().(string); ok {
			if buf, decErr := hexutil.Decode(raw); decErr == nil {
				data = buf
			}
		}
	}
	if len(data) > 0 {
		if unpacked, unpackErr := abi.UnpackRevert(data); unpackErr == nil {
			return unpacked, data
		}
		if len(data) >= 4 {
			return "custom error 0x" + hex.EncodeToString(data[:4]), data
		}
	}
	msg := err.Error()
	if idx := strings.Index(msg, "execution reverted"); idx >= 0 {
		reason = strings.TrimSpace(strings.TrimPrefix(msg[idx+len("execution reverted"):], ":"))
		if reason == "" {
			reason = "execution reverted"
		}
		return reason, data
	}
	return "", data
}

// revertError wraps a simulation or estimation failure, attaching the decoded
// revert reason when the node returned one.
func revertError(step string, err error) error {
	reason, data := RevertReason(err)
	if reason == "" {
		return clierr.Wrap(clierr.CodeUnavailable, step, err)
	}
	out := clierr.Wrap(clierr.CodeExecutionFailure, step, err).WithDetail("revert_reason", reason)
	if len(data) > 0 {
		out = out.WithDetail("revert_data", hexutil.Encode(data))
	}
	return out
}
