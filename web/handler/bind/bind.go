package bind

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/screwyprof/fundme/action"
	"github.com/screwyprof/fundme/chain"
	"github.com/screwyprof/fundme/pkg/httpkit"
	"github.com/screwyprof/fundme/roster"
	"github.com/screwyprof/fundme/session"
	"github.com/screwyprof/fundme/wallet"
	"github.com/screwyprof/fundme/web/api"
)

// Sentinel errors for request binding
var (
	ErrInvalidActionID = errors.New("invalid action id")
	ErrInvalidBody     = errors.New("invalid request body")
)

// Error codes reported for failed actions
const (
	CodeUserRejected  = "user_rejected"
	CodeNotOwner      = "not_owner"
	CodeChainRejected = "chain_rejected"
	CodeTimeout       = "timeout"
	CodeFailed        = "failed"
)

// FundRequest binds the POST /fund body
func FundRequest(r *http.Request) (api.FundRequest, error) {
	var req api.FundRequest
	if err := httpkit.DecodeJSON(r, &req); err != nil {
		return req, fmt.Errorf("%w: %w", ErrInvalidBody, err)
	}
	return req, nil
}

// ActionID binds the {id} path value
func ActionID(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidActionID, r.PathValue("id"))
	}
	return id, nil
}

// SessionResponse converts the session state
func SessionResponse(s session.State) api.SessionResponse {
	resp := api.SessionResponse{
		Connected:    s.Connected(),
		IsOwner:      s.IsOwner,
		WrongNetwork: s.WrongNetwork,
	}
	if s.Account != nil {
		resp.Account = s.Account.Hex()
	}
	if s.ChainID != nil {
		resp.ChainID = s.ChainID.String()
	}
	if s.Owner != nil {
		resp.Owner = s.Owner.Hex()
	}
	if s.Contract != nil {
		resp.Contract = s.Contract.Address().Hex()
	}
	return resp
}

// FundersResponse converts the latest roster result
func FundersResponse(r roster.Result) api.FundersResponse {
	resp := api.FundersResponse{
		Data:        []api.Contributor{},
		LastUpdated: timeOrNil(r.LastUpdated),
		LastAttempt: timeOrNil(r.LastAttempt),
	}
	if r.Err != nil {
		resp.Error = rosterError(r.Err)
	}
	if r.Data == nil {
		return resp
	}

	resp.Contract = r.Data.Contract.Hex()
	resp.Skipped = r.Data.Skipped
	resp.Restored = r.Data.Restored
	resp.FetchedAt = timeOrNil(r.Data.FetchedAt)
	for _, c := range r.Data.Contributors {
		resp.Data = append(resp.Data, api.Contributor{
			Address: c.Address.Hex(),
			Wei:     c.Amount.String(),
			Ether:   chain.FormatEther(c.Amount),
		})
	}
	return resp
}

// ActionResponse converts a pending action
func ActionResponse(p action.Pending) api.ActionResponse {
	resp := api.ActionResponse{
		ID:        p.ID,
		Kind:      string(p.Kind),
		State:     string(p.State),
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
	if p.Amount != nil {
		resp.Amount = chain.FormatEther(p.Amount)
		resp.AmountWei = p.Amount.String()
	}
	if p.TxHash != (common.Hash{}) {
		resp.TxHash = p.TxHash.Hex()
	}
	if p.Err != nil {
		resp.ErrorCode, resp.Error = actionError(p.Err)
	}
	return resp
}

// ActionsResponse converts a list of pending actions
func ActionsResponse(list []action.Pending) api.ActionsResponse {
	resp := api.ActionsResponse{Data: make([]api.ActionResponse, 0, len(list))}
	for _, p := range list {
		resp.Data = append(resp.Data, ActionResponse(p))
	}
	return resp
}

// actionError gives a failure a stable code and a message safe to show
func actionError(err error) (string, string) {
	var rejected *action.ChainRejectedError
	switch {
	case errors.Is(err, wallet.ErrUserRejected):
		return CodeUserRejected, "transaction rejected in the wallet"
	case errors.Is(err, action.ErrNotOwner):
		return CodeNotOwner, action.ErrNotOwner.Error()
	case errors.As(err, &rejected):
		return CodeChainRejected, rejected.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout, "timed out waiting for the transaction"
	default:
		return CodeFailed, "transaction failed"
	}
}

func rosterError(err error) string {
	switch {
	case errors.Is(err, roster.ErrNoContract):
		return roster.ErrNoContract.Error()
	case errors.Is(err, roster.ErrFetchFailure):
		return roster.ErrFetchFailure.Error()
	default:
		return "roster unavailable"
	}
}

func timeOrNil(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
