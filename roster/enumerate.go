package roster

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/screwyprof/fundme/chain"
)

// LinearProbe walks getFunder(0), getFunder(1), ... until a call fails or
// returns the zero address. A revert at index 0 is an empty roster; any
// other failure at index 0 is ErrFetchFailure. Failures further on end the
// walk. Repeated funders are kept at their first position.
type LinearProbe struct {
	// MaxFunders bounds the walk; zero means unbounded
	MaxFunders uint64
}

func (p LinearProbe) Enumerate(ctx context.Context, r Reader) ([]common.Address, error) {
	var (
		out  []common.Address
		seen = make(map[common.Address]struct{})
	)

	for index := uint64(0); p.MaxFunders == 0 || index < p.MaxFunders; index++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		addr, err := r.Funder(ctx, index)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if index > 0 || errors.Is(err, chain.ErrReverted) {
				break
			}
			return nil, fmt.Errorf("%w: %w", ErrFetchFailure, err)
		}
		if addr == (common.Address{}) {
			break
		}
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}

	return out, nil
}
