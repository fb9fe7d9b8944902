package dbrow

import (
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/screwyprof/fundme/roster"
)

// ErrFractionalAmount is returned for a stored amount that is not a whole number of wei
var ErrFractionalAmount = errors.New("stored amount is not a whole number of wei")

// Snapshot represents a roster_snapshots record
type Snapshot struct {
	ID        int64     `db:"id"`
	Contract  string    `db:"contract"`
	FetchedAt time.Time `db:"fetched_at"`
	Skipped   int32     `db:"skipped"`
}

// Contributor represents a roster_contributors record as queried back
type Contributor struct {
	Address string         `db:"address"`
	Amount  pgtype.Numeric `db:"amount"`
}

// ContributorsToRows converts contributors to [][]any for pgx.CopyFromRows.
// Position preserves enumeration order.
func ContributorsToRows(snapshotID int64, contributors []roster.Contributor) [][]any {
	rows := make([][]any, len(contributors))

	for i, c := range contributors {
		rows[i] = []any{
			snapshotID,
			int32(i),
			c.Address.Hex(),
			pgtype.Numeric{Int: new(big.Int).Set(c.Amount), Valid: true},
		}
	}

	return rows
}

// ToSnapshot converts database rows back to the domain snapshot
func ToSnapshot(s Snapshot, contributors []Contributor) (roster.Snapshot, error) {
	out := roster.Snapshot{
		Contract:     common.HexToAddress(s.Contract),
		FetchedAt:    s.FetchedAt,
		Skipped:      int(s.Skipped),
		Contributors: make([]roster.Contributor, 0, len(contributors)),
	}

	for _, c := range contributors {
		amount, err := wei(c.Amount)
		if err != nil {
			return roster.Snapshot{}, err
		}
		out.Contributors = append(out.Contributors, roster.Contributor{
			Address: common.HexToAddress(c.Address),
			Amount:  amount,
		})
	}

	return out, nil
}

// wei turns a NUMERIC(78,0) value into an integer; pgx may hand back
// trailing zeros as a positive exponent
func wei(n pgtype.Numeric) (*big.Int, error) {
	if !n.Valid || n.NaN || n.InfinityModifier != pgtype.Finite || n.Int == nil {
		return nil, ErrFractionalAmount
	}

	out := new(big.Int).Set(n.Int)
	switch {
	case n.Exp > 0:
		scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n.Exp)), nil)
		out.Mul(out, scale)
	case n.Exp < 0:
		scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(-n.Exp)), nil)
		var rem big.Int
		out.QuoRem(out, scale, &rem)
		if rem.Sign() != 0 {
			return nil, ErrFractionalAmount
		}
	}
	return out, nil
}
