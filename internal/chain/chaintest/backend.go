// Package chaintest provides an in-memory chain.Backend for tests.
package chaintest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// ContractFunc answers eth_call and transaction data sent to one address.
type ContractFunc func(from common.Address, data []byte, value *big.Int) ([]byte, error)

// Token is a minimal ERC-20 ledger.
type Token struct {
	Balances   map[common.Address]*big.Int
	Allowances map[common.Address]map[common.Address]*big.Int
}

type Backend struct {
	mu sync.Mutex

	ID          *big.Int
	Head        uint64
	BaseFee     *big.Int
	Tip         *big.Int
	GasEstimate uint64

	Native    map[common.Address]*big.Int
	Tokens    map[common.Address]*Token
	Contracts map[common.Address]ContractFunc
	// Reverting marks targets whose mined transactions get a failed receipt.
	Reverting map[common.Address]bool

	Receipts map[common.Hash]*types.Receipt
	Logs     []types.Log

	ReceiptErr error
	LogsErr    error
	HeadErr    error

	Sent        []*types.Transaction
	CallCount   int
	FilterCount int
	Queries     []ethereum.FilterQuery
}

func New(chainID int64) *Backend {
	return &Backend{
		ID:          big.NewInt(chainID),
		Head:        1_000,
		BaseFee:     big.NewInt(1_000_000_000),
		Tip:         big.NewInt(1_000_000_000),
		GasEstimate: 100_000,
		Native:      map[common.Address]*big.Int{},
		Tokens:      map[common.Address]*Token{},
		Contracts:   map[common.Address]ContractFunc{},
		Reverting:   map[common.Address]bool{},
		Receipts:    map[common.Hash]*types.Receipt{},
	}
}

// SetTokenBalance creates the token ledger on first use.
func (b *Backend) SetTokenBalance(token, owner common.Address, amount *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.token(token).Balances[owner] = new(big.Int).Set(amount)
}

func (b *Backend) SetAllowance(token, owner, spender common.Address, amount *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.token(token)
	if t.Allowances[owner] == nil {
		t.Allowances[owner] = map[common.Address]*big.Int{}
	}
	t.Allowances[owner][spender] = new(big.Int).Set(amount)
}

func (b *Backend) AllowanceOf(token, owner, spender common.Address) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if v := b.token(token).Allowances[owner][spender]; v != nil {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

func (b *Backend) token(addr common.Address) *Token {
	t, ok := b.Tokens[addr]
	if !ok {
		t = &Token{Balances: map[common.Address]*big.Int{}, Allowances: map[common.Address]map[common.Address]*big.Int{}}
		b.Tokens[addr] = t
	}
	return t
}

// AddReceipt stores a receipt for a transaction mined outside SendTransaction.
func (b *Backend) AddReceipt(r *types.Receipt) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Receipts[r.TxHash] = r
}

// AddLog appends a log visible to later FilterLogs calls.
func (b *Backend) AddLog(l types.Log) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Logs = append(b.Logs, l)
}

func (b *Backend) SentTransactions() []*types.Transaction {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*types.Transaction(nil), b.Sent...)
}

func (b *Backend) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).Set(b.ID), nil
}

func (b *Backend) BlockNumber(context.Context) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.HeadErr != nil {
		return 0, b.HeadErr
	}
	return b.Head, nil
}

func (b *Backend) BalanceAt(_ context.Context, account common.Address, _ *big.Int) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if v := b.Native[account]; v != nil {
		return new(big.Int).Set(v), nil
	}
	return new(big.Int), nil
}

func (b *Backend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	b.mu.Lock()
	b.CallCount++
	b.mu.Unlock()
	if msg.To == nil {
		return nil, errors.New("contract creation not supported")
	}
	return b.dispatch(msg.From, *msg.To, msg.Data, msg.Value)
}

func (b *Backend) dispatch(from, to common.Address, data []byte, value *big.Int) ([]byte, error) {
	b.mu.Lock()
	fn, ok := b.Contracts[to]
	_, isToken := b.Tokens[to]
	b.mu.Unlock()
	if ok {
		return fn(from, data, value)
	}
	if isToken {
		return b.erc20(from, to, data)
	}
	return nil, fmt.Errorf("execution reverted: no contract at %s", to.Hex())
}

func (b *Backend) erc20(from, token common.Address, data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, errors.New("execution reverted")
	}
	method, err := erc20ABI.MethodById(data[:4])
	if err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.token(token)
	switch method.Name {
	case "balanceOf":
		v := t.Balances[args[0].(common.Address)]
		if v == nil {
			v = new(big.Int)
		}
		return method.Outputs.Pack(v)
	case "allowance":
		v := t.Allowances[args[0].(common.Address)][args[1].(common.Address)]
		if v == nil {
			v = new(big.Int)
		}
		return method.Outputs.Pack(v)
	case "approve":
		if t.Allowances[from] == nil {
			t.Allowances[from] = map[common.Address]*big.Int{}
		}
		t.Allowances[from][args[0].(common.Address)] = new(big.Int).Set(args[1].(*big.Int))
		return method.Outputs.Pack(true)
	}
	return nil, fmt.Errorf("unsupported erc20 method %s", method.Name)
}

func (b *Backend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return b.GasEstimate, nil
}

func (b *Backend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return new(big.Int).Set(b.Tip), nil
}

func (b *Backend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.HeadErr != nil {
		return nil, b.HeadErr
	}
	return &types.Header{Number: new(big.Int).SetUint64(b.Head), BaseFee: new(big.Int).Set(b.BaseFee)}, nil
}

func (b *Backend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return uint64(len(b.Sent)), nil
}

// SendTransaction "mines" the transaction immediately: token approvals update
// the ledger and a receipt is stored, failed if the target is marked reverting.
func (b *Backend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		return err
	}
	status := types.ReceiptStatusSuccessful
	if tx.To() != nil {
		b.mu.Lock()
		reverting := b.Reverting[*tx.To()]
		b.mu.Unlock()
		if reverting {
			status = types.ReceiptStatusFailed
		} else if _, err := b.dispatch(from, *tx.To(), tx.Data(), tx.Value()); err != nil && !isNoContract(err) {
			status = types.ReceiptStatusFailed
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Sent = append(b.Sent, tx)
	b.Receipts[tx.Hash()] = &types.Receipt{
		Status:      status,
		TxHash:      tx.Hash(),
		BlockNumber: new(big.Int).SetUint64(b.Head),
	}
	return nil
}

func isNoContract(err error) bool {
	return err != nil && bytes.Contains([]byte(err.Error()), []byte("no contract at"))
}

func (b *Backend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ReceiptErr != nil {
		return nil, b.ReceiptErr
	}
	r, ok := b.Receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (b *Backend) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.FilterCount++
	b.Queries = append(b.Queries, q)
	if b.LogsErr != nil {
		return nil, b.LogsErr
	}
	var out []types.Log
	for _, l := range b.Logs {
		if !matchesQuery(l, q) {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func matchesQuery(l types.Log, q ethereum.FilterQuery) bool {
	if q.FromBlock != nil && l.BlockNumber < q.FromBlock.Uint64() {
		return false
	}
	if q.ToBlock != nil && l.BlockNumber > q.ToBlock.Uint64() {
		return false
	}
	if len(q.Addresses) > 0 {
		found := false
		for _, a := range q.Addresses {
			if a == l.Address {
				found = true
			}
		}
		if !found {
			return false
		}
	}
	for i, options := range q.Topics {
		if len(options) == 0 {
			continue
		}
		if i >= len(l.Topics) {
			return false
		}
		found := false
		for _, topic := range options {
			if topic == l.Topics[i] {
				found = true
			}
		}
		if !found {
			return false
		}
	}
	return true
}

var erc20ABI = mustABI(`[
	{"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`)

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(bytes.NewReader([]byte(raw)))
	if err != nil {
		panic(err)
	}
	return parsed
}

// TestKey is a throwaway private key for signing in tests.
const TestKey = "59c6995e998f97a5a0044976f0945388cf9b7e5e5f4f9d2d9d8f1f5b7f6d11d1"

// Signer signs with TestKey.
type Signer struct{}

func (Signer) Address() common.Address {
	key, _ := crypto.HexToECDSA(TestKey)
	return crypto.PubkeyToAddress(key.PublicKey)
}

func (Signer) SignTx(chainID *big.Int, tx *types.Transaction) (*types.Transaction, error) {
	key, err := crypto.HexToECDSA(TestKey)
	if err != nil {
		return nil, err
	}
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), key)
}

func (Signer) SignMessage(data []byte) ([]byte, error) {
	key, err := crypto.HexToECDSA(TestKey)
	if err != nil {
		return nil, err
	}
	hash := crypto.Keccak256([]byte(fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(data), data)))
	return crypto.Sign(hash, key)
}
