package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"

	"github.com/ggonzalez94/xbridge/internal/registry"
)

var erc20ABI = MustParseABI(registry.ERC20MinimalABI)

// MaxUint256 is the unbounded allowance granted so later transfers skip approval.
var MaxUint256 = new(big.Int).Set(math.MaxBig256)

func MustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parse abi: %v", err))
	}
	return parsed
}

// CallView packs method(args...), runs eth_call against to and unpacks the result.
func CallView(ctx context.Context, backend Backend, parsed abi.ABI, to common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := parsed.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

func callUint(ctx context.Context, backend Backend, parsed abi.ABI, to common.Address, method string, args ...interface{}) (*big.Int, error) {
	values, err := CallView(ctx, backend, parsed, to, method, args...)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%s returned no values", method)
	}
	v, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s returned %T", method, values[0])
	}
	return v, nil
}

func TokenBalance(ctx context.Context, backend Backend, token, owner common.Address) (*big.Int, error) {
	return callUint(ctx, backend, erc20ABI, token, "balanceOf", owner)
}

func Allowance(ctx context.Context, backend Backend, token, owner, spender common.Address) (*big.Int, error) {
	return callUint(ctx, backend, erc20ABI, token, "allowance", owner, spender)
}

func ApproveCalldata(spender common.Address, amount *big.Int) ([]byte, error) {
	return erc20ABI.Pack("approve", spender, amount)
}

func NativeBalance(ctx context.Context, backend Backend, owner common.Address) (*big.Int, error) {
	return backend.BalanceAt(ctx, owner, nil)
}
