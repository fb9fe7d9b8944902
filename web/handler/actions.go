package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/event"

	"github.com/screwyprof/fundme/action"
	"github.com/screwyprof/fundme/pkg/httpkit"
	"github.com/screwyprof/fundme/web/api"
	"github.com/screwyprof/fundme/web/handler/bind"
)

const (
	PostFundRoute     = http.MethodPost + " " + "/fund"
	PostWithdrawRoute = http.MethodPost + " " + "/withdraw"
	GetActionRoute    = http.MethodGet + " " + "/actions/{id}"
	GetActionsRoute   = http.MethodGet + " " + "/actions"
)

// ErrActionNotFound is returned for unknown or expired action ids
var ErrActionNotFound = errors.New("action not found")

// ActionTracker queues fund and withdraw commands
type ActionTracker interface {
	Fund(amount string) (action.Pending, error)
	Withdraw() (action.Pending, error)
	Get(id uint64) (action.Pending, bool)
	List() []action.Pending
	Subscribe(ch chan<- action.Pending) event.Subscription
}

type Actions struct {
	tracker ActionTracker
}

func NewActions(t ActionTracker) *Actions {
	return &Actions{tracker: t}
}

func (h *Actions) AddRoutes(m *http.ServeMux) {
	m.Handle(PostFundRoute, httpkit.HandlerFunc(h.Fund))
	m.Handle(PostWithdrawRoute, httpkit.HandlerFunc(h.Withdraw))
	m.Handle(GetActionRoute, httpkit.HandlerFunc(h.GetAction))
	m.Handle(GetActionsRoute, httpkit.HandlerFunc(h.GetActions))
}

func (h *Actions) Fund(_ http.ResponseWriter, r *http.Request) http.HandlerFunc {
	req, err := bind.FundRequest(r)
	if err != nil {
		return httpkit.JsonError(api.BadRequest(err))
	}

	pending, err := h.tracker.Fund(req.Amount)
	if err != nil {
		return httpkit.JsonError(submitError(err))
	}
	return httpkit.Accepted(bind.ActionResponse(pending))
}

func (h *Actions) Withdraw(_ http.ResponseWriter, _ *http.Request) http.HandlerFunc {
	pending, err := h.tracker.Withdraw()
	if err != nil {
		return httpkit.JsonError(submitError(err))
	}
	return httpkit.Accepted(bind.ActionResponse(pending))
}

func (h *Actions) GetAction(_ http.ResponseWriter, r *http.Request) http.HandlerFunc {
	id, err := bind.ActionID(r)
	if err != nil {
		return httpkit.JsonError(api.BadRequest(err))
	}

	pending, ok := h.tracker.Get(id)
	if !ok {
		return httpkit.JsonError(api.NotFound(fmt.Errorf("%w: %d", ErrActionNotFound, id)))
	}
	return httpkit.JSON(bind.ActionResponse(pending))
}

func (h *Actions) GetActions(_ http.ResponseWriter, _ *http.Request) http.HandlerFunc {
	return httpkit.JSON(bind.ActionsResponse(h.tracker.List()))
}

func submitError(err error) *api.Error {
	switch {
	case errors.Is(err, action.ErrInvalidAmount):
		return api.BadRequest(err)
	case errors.Is(err, action.ErrNoSession):
		return api.Conflict(action.ErrNoSession)
	case errors.Is(err, action.ErrTrackerStopped):
		return api.ServiceUnavailable(err)
	default:
		return api.InternalServerError(err)
	}
}
