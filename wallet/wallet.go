// Package wallet describes the wallet collaborator the daemon talks to and
// ships two implementations: an EIP-1193 wallet reached over JSON-RPC and a
// local go-ethereum keystore.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/rpc"
)

// Sentinel errors for wallet interactions
var (
	ErrUnavailable       = errors.New("wallet unavailable")
	ErrUserRejected      = errors.New("user rejected the request")
	ErrUnknownChain      = errors.New("chain not recognised by wallet")
	ErrUnsupported       = errors.New("method not supported by wallet")
	ErrRevokeUnsupported = errors.New("wallet does not support permission revocation")
	ErrPromptDeclined    = errors.New("passphrase prompt declined")
)

// EIP-1193 provider error codes plus the JSON-RPC "method not found" code
const (
	CodeUserRejected      = 4001
	CodeUnauthorized      = 4100
	CodeUnsupportedMethod = 4200
	CodeDisconnected      = 4900
	CodeChainDisconnected = 4901
	CodeUnrecognizedChain = 4902
	CodeMethodNotFound    = -32601
)

// EventKind distinguishes wallet notifications
type EventKind int

const (
	AccountsChanged EventKind = iota + 1
	ChainChanged
)

func (k EventKind) String() string {
	switch k {
	case AccountsChanged:
		return "accountsChanged"
	case ChainChanged:
		return "chainChanged"
	default:
		return "unknown"
	}
}

// Event is a wallet-level notification. Accounts is set for
// AccountsChanged (empty means every account was disconnected), ChainID
// for ChainChanged.
type Event struct {
	Kind     EventKind
	Accounts []common.Address
	ChainID  *big.Int
}

// TxRequest is a contract call the wallet is asked to sign and broadcast
type TxRequest struct {
	From  common.Address
	To    common.Address
	Value *big.Int
	Data  []byte
}

// Provider is the wallet surface the session and the contract adapter rely on
type Provider interface {
	// RequestAccounts prompts for account access and returns the granted accounts
	RequestAccounts(ctx context.Context) ([]common.Address, error)
	// Accounts returns the currently authorised accounts without prompting
	Accounts(ctx context.Context) ([]common.Address, error)
	ChainID(ctx context.Context) (*big.Int, error)
	SwitchChain(ctx context.Context, chainID *big.Int) error
	SendTransaction(ctx context.Context, tx TxRequest) (common.Hash, error)
	Subscribe(ch chan<- Event) event.Subscription
}

// PermissionRevoker is implemented by wallets that can drop the site grant
type PermissionRevoker interface {
	RevokePermissions(ctx context.Context) error
}

// Classify maps provider failures onto the package sentinels while keeping
// the original error in the chain, so revert data stays reachable.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.ErrorCode() {
		case CodeUserRejected, CodeUnauthorized:
			return fmt.Errorf("%w: %w", ErrUserRejected, err)
		case CodeUnrecognizedChain:
			return fmt.Errorf("%w: %w", ErrUnknownChain, err)
		case CodeUnsupportedMethod, CodeMethodNotFound:
			return fmt.Errorf("%w: %w", ErrUnsupported, err)
		case CodeDisconnected, CodeChainDisconnected:
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	return err
}

// sameAccounts reports whether two account lists are identical in order
func sameAccounts(a, b []common.Address) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
