// Package chaintest provides an in-memory FundMe ledger and a scriptable
// wallet for tests that need the contract without a node.
package chaintest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/screwyprof/fundme/chain"
	"github.com/screwyprof/fundme/wallet"
)

// Address is where tests bind the simulated contract
var Address = common.HexToAddress("0xa5d16D02bfF5e2b3d944B2a654fe6e31920F7BCe")

// Sepolia is the chain id the simulated ledger serves by default
var Sepolia = big.NewInt(11155111)

// RPCError mimics a JSON-RPC error as returned by a node or wallet
type RPCError struct {
	Code    int
	Message string
	Data    string
}

func (e *RPCError) Error() string  { return e.Message }
func (e *RPCError) ErrorCode() int { return e.Code }
func (e *RPCError) ErrorData() any { return e.Data }

// Revert builds the node error for a revert carrying data
func Revert(data []byte) *RPCError {
	return &RPCError{Code: 3, Message: "execution reverted", Data: hexutil.Encode(data)}
}

// NotOwnerRevert is the revert raised by cheaperWithdraw for non-owners
func NotOwnerRevert() *RPCError {
	return Revert(chain.NotOwnerSelector[:])
}

// ReasonRevert is a require(..., reason) revert
func ReasonRevert(reason string) *RPCError {
	stringType, _ := abi.NewType("string", "", nil)
	packed, err := abi.Arguments{{Type: stringType}}.Pack(reason)
	if err != nil {
		panic(err)
	}
	selector := crypto.Keccak256([]byte("Error(string)"))[:4]
	return Revert(append(selector, packed...))
}

// PanicRevert is a Solidity Panic(uint256) revert, e.g. 0x32 for an out-of-bounds index
func PanicRevert(code uint64) *RPCError {
	uintType, _ := abi.NewType("uint256", "", nil)
	packed, err := abi.Arguments{{Type: uintType}}.Pack(new(big.Int).SetUint64(code))
	if err != nil {
		panic(err)
	}
	selector := crypto.Keccak256([]byte("Panic(uint256)"))[:4]
	return Revert(append(selector, packed...))
}

// Ledger is an in-memory FundMe contract. It serves reads as a
// chain.Backend and executes transactions sent through its Wallet.
type Ledger struct {
	mu           sync.Mutex
	owner        common.Address
	funders      []common.Address
	amounts      map[common.Address]*big.Int
	receipts     map[common.Hash]*types.Receipt
	held         map[common.Hash]*types.Receipt
	txs          map[common.Hash]*types.Transaction
	nonce        uint64
	failOwner    error
	failFunder   map[uint64]error
	failAmount   map[common.Address]error
	failOnChain  bool
	holdReceipts bool
	noEstimate   bool

	reads  atomic.Int64
	onRead func(method string)
}

var (
	_ chain.Backend  = (*Ledger)(nil)
	_ chain.TxLookup = (*Ledger)(nil)
)

// NewLedger returns an empty FundMe deployed by owner
func NewLedger(owner common.Address) *Ledger {
	return &Ledger{
		owner:      owner,
		amounts:    make(map[common.Address]*big.Int),
		receipts:   make(map[common.Hash]*types.Receipt),
		held:       make(map[common.Hash]*types.Receipt),
		txs:        make(map[common.Hash]*types.Transaction),
		failFunder: make(map[uint64]error),
		failAmount: make(map[common.Address]error),
	}
}

// Funded records a contribution directly, as if fund() had been mined
func (l *Ledger) Funded(funder common.Address, wei *big.Int) *Ledger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fund(funder, wei)
	return l
}

// FailOwner makes getOwner fail with err
func (l *Ledger) FailOwner(err error) *Ledger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failOwner = err
	return l
}

// FailFunderAt makes getFunder(index) fail with err
func (l *Ledger) FailFunderAt(index uint64, err error) *Ledger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failFunder[index] = err
	return l
}

// FailAmountFor makes getAddressToAmountFunded(funder) fail with err
func (l *Ledger) FailAmountFor(funder common.Address, err error) *Ledger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failAmount[funder] = err
	return l
}

// FailOnChain makes every following transaction mine with a failed status
func (l *Ledger) FailOnChain() *Ledger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failOnChain = true
	return l
}

// SkipEstimation mines transactions that would revert with a failed status
// instead of rejecting them up front, like a wallet that broadcasts
// without estimating gas
func (l *Ledger) SkipEstimation() *Ledger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.noEstimate = true
	return l
}

// HoldReceipts keeps receipts pending until Mine is called
func (l *Ledger) HoldReceipts() *Ledger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.holdReceipts = true
	return l
}

// OnRead registers a hook called before every contract read
func (l *Ledger) OnRead(fn func(method string)) *Ledger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onRead = fn
	return l
}

// Mine releases a held receipt
func (l *Ledger) Mine(hash common.Hash) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r, ok := l.held[hash]; ok {
		delete(l.held, hash)
		l.receipts[hash] = r
	}
}

// Reads returns how many contract reads were served
func (l *Ledger) Reads() int64 { return l.reads.Load() }

// Funders returns the raw funder array
func (l *Ledger) Funders() []common.Address {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.funders)
}

// AmountOf returns the recorded contribution of funder
func (l *Ledger) AmountOf(funder common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if amount, ok := l.amounts[funder]; ok {
		return new(big.Int).Set(amount)
	}
	return new(big.Int)
}

func (l *Ledger) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return []byte{0x60, 0x80}, nil
}

func (l *Ledger) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	l.reads.Add(1)

	method, args, err := decodeCall(msg.Data)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	hook := l.onRead
	l.mu.Unlock()
	if hook != nil {
		hook(method.Name)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	switch method.Name {
	case chain.MethodGetOwner:
		if l.failOwner != nil {
			return nil, l.failOwner
		}
		return method.Outputs.Pack(l.owner)
	case chain.MethodGetFunder:
		index := args[0].(*big.Int).Uint64()
		if err, ok := l.failFunder[index]; ok {
			return nil, err
		}
		if index >= uint64(len(l.funders)) {
			return nil, PanicRevert(0x32)
		}
		return method.Outputs.Pack(l.funders[index])
	case chain.MethodAmountFunded:
		funder := args[0].(common.Address)
		if err, ok := l.failAmount[funder]; ok {
			return nil, err
		}
		amount, ok := l.amounts[funder]
		if !ok {
			amount = new(big.Int)
		}
		return method.Outputs.Pack(amount)
	case chain.MethodCheaperWithdraw:
		if msg.From != l.owner {
			return nil, NotOwnerRevert()
		}
		return nil, nil
	case chain.MethodFund:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported read %s", method.Name)
	}
}

func (l *Ledger) TransactionByHash(_ context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tx, ok := l.txs[hash]
	if !ok {
		return nil, false, ethereum.NotFound
	}
	_, pending := l.held[hash]
	return tx, pending, nil
}

func (l *Ledger) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r, ok := l.receipts[hash]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

// execute applies a wallet transaction the way the contract would,
// rejecting it at estimation time when it would revert unless
// SkipEstimation is set.
func (l *Ledger) execute(req wallet.TxRequest) (common.Hash, error) {
	method, _, err := decodeCall(req.Data)
	if err != nil {
		return common.Hash{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	failed := l.failOnChain
	switch method.Name {
	case chain.MethodFund:
		if failed {
			break
		}
		value := req.Value
		if value == nil {
			value = new(big.Int)
		}
		l.fund(req.From, value)
	case chain.MethodCheaperWithdraw:
		if req.From != l.owner {
			if !l.noEstimate {
				return common.Hash{}, NotOwnerRevert()
			}
			failed = true
		}
		if failed {
			break
		}
		for _, f := range l.funders {
			l.amounts[f] = new(big.Int)
		}
		l.funders = nil
	default:
		return common.Hash{}, fmt.Errorf("unsupported transaction %s", method.Name)
	}

	l.nonce++
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID: Sepolia,
		Nonce:   l.nonce,
		To:      &req.To,
		Value:   req.Value,
		Data:    req.Data,
	})
	hash := crypto.Keccak256Hash(req.From.Bytes(), new(big.Int).SetUint64(l.nonce).Bytes())
	status := types.ReceiptStatusSuccessful
	if failed {
		status = types.ReceiptStatusFailed
	}
	receipt := &types.Receipt{Status: status, TxHash: hash, BlockNumber: new(big.Int).SetUint64(l.nonce)}
	l.txs[hash] = tx
	if l.holdReceipts {
		l.held[hash] = receipt
	} else {
		l.receipts[hash] = receipt
	}
	return hash, nil
}

func (l *Ledger) fund(funder common.Address, wei *big.Int) {
	l.funders = append(l.funders, funder)
	if current, ok := l.amounts[funder]; ok {
		l.amounts[funder] = new(big.Int).Add(current, wei)
		return
	}
	l.amounts[funder] = new(big.Int).Set(wei)
}

func decodeCall(data []byte) (*abi.Method, []any, error) {
	if len(data) < 4 {
		return nil, nil, errors.New("calldata too short")
	}
	method, err := chain.ABI.MethodById(data[:4])
	if err != nil {
		return nil, nil, err
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, nil, err
	}
	return method, args, nil
}
