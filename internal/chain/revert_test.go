package chain

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

type rpcDataError struct {
	msg  string
	data string
}

func (e rpcDataError) Error() string          { return e.msg }
func (e rpcDataError) ErrorData() interface{} { return e.data }

func TestRevertReasonDecodesErrorString(t *testing.T) {
	// Error("Stargate: slippage too high")
	payload := "0x08c379a0" +
		"0000000000000000000000000000000000000000000000000000000000000020" +
		"000000000000000000000000000000000000000000000000000000000000001b" +
		"53746172676174653a20736c69707061676520746f6f20686967680000000000"
	reason, data := RevertReason(rpcDataError{msg: "execution reverted", data: payload})
	if reason != "Stargate: slippage too high" {
		t.Fatalf("unexpected reason %q", reason)
	}
	if hexutil.Encode(data) != payload {
		t.Fatalf("unexpected data %s", hexutil.Encode(data))
	}
}

func TestRevertReasonCustomSelector(t *testing.T) {
	reason, _ := RevertReason(rpcDataError{msg: "execution reverted", data: "0x1234abcd"})
	if reason != "custom error 0x1234abcd" {
		t.Fatalf("unexpected reason %q", reason)
	}
}

func TestRevertReasonFromMessage(t *testing.T) {
	reason, data := RevertReason(errors.New("execution reverted: BRIDGE: amount too low"))
	if reason != "BRIDGE: amount too low" || data != nil {
		t.Fatalf("unexpected reason %q data=%v", reason, data)
	}
	if reason, _ := RevertReason(errors.New("connection refused")); reason != "" {
		t.Fatalf("did not expect reason for network error, got %q", reason)
	}
}
