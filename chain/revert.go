package chain

import (
	"bytes"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// ErrReverted matches every decoded revert
var ErrReverted = errors.New("execution reverted")

// JSON-RPC error code geth-compatible nodes use for reverts
const codeExecutionReverted = 3

// RevertError is a contract revert with its raw return data and, when it
// could be decoded, a human readable reason: the Error(string) message, the
// Panic description, or the custom error name.
type RevertError struct {
	Reason string
	Data   []byte
	cause  error
}

func (e *RevertError) Error() string {
	if e.Reason == "" {
		return ErrReverted.Error()
	}
	return ErrReverted.Error() + ": " + e.Reason
}

func (e *RevertError) Unwrap() []error {
	if e.cause == nil {
		return []error{ErrReverted}
	}
	return []error{ErrReverted, e.cause}
}

// Selector returns the first four bytes of the revert data
func (e *RevertError) Selector() ([4]byte, bool) {
	var sel [4]byte
	if len(e.Data) < 4 {
		return sel, false
	}
	copy(sel[:], e.Data[:4])
	return sel, true
}

// HasSelector reports whether the revert carries the given custom error selector
func (e *RevertError) HasSelector(sel [4]byte) bool {
	got, ok := e.Selector()
	return ok && got == sel
}

// DecodeRevert extracts a revert from a node or wallet error. It recognises
// revert data attached to JSON-RPC errors (including the nested
// originalError form some wallets use), the revert error code, and the
// plain "execution reverted" message.
func DecodeRevert(err error) (*RevertError, bool) {
	if err == nil {
		return nil, false
	}

	var rev *RevertError
	if errors.As(err, &rev) {
		return rev, true
	}

	data, hasData := revertData(err)
	if !hasData && !looksReverted(err) {
		return nil, false
	}

	return &RevertError{Reason: reasonFor(data), Data: data, cause: err}, true
}

// IsNotOwner reports whether err is the FundMe__NotOwner() revert
func IsNotOwner(err error) bool {
	rev, ok := DecodeRevert(err)
	return ok && rev.HasSelector(NotOwnerSelector)
}

func revertData(err error) ([]byte, bool) {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return nil, false
	}
	return hexData(dataErr.ErrorData())
}

func hexData(v any) ([]byte, bool) {
	switch d := v.(type) {
	case string:
		b, err := hexutil.Decode(d)
		if err != nil {
			return nil, false
		}
		return b, true
	case map[string]any:
		if nested, ok := d["data"]; ok {
			return hexData(nested)
		}
		if original, ok := d["originalError"]; ok {
			return hexData(original)
		}
	}
	return nil, false
}

func looksReverted(err error) bool {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == codeExecutionReverted {
		return true
	}
	return strings.Contains(err.Error(), ErrReverted.Error())
}

func reasonFor(data []byte) string {
	if len(data) < 4 {
		return ""
	}
	if reason, err := abi.UnpackRevert(data); err == nil {
		return reason
	}
	for _, e := range ABI.Errors {
		if bytes.Equal(e.ID[:4], data[:4]) {
			return e.Name
		}
	}
	return hexutil.Encode(data[:4])
}
