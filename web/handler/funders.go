package handler

import (
	"net/http"

	"github.com/ethereum/go-ethereum/event"

	"github.com/screwyprof/fundme/pkg/httpkit"
	"github.com/screwyprof/fundme/roster"
	"github.com/screwyprof/fundme/web/handler/bind"
)

const GetFundersRoute = http.MethodGet + " " + "/funders"

// RosterReader exposes the synchronizer's latest result
type RosterReader interface {
	Latest() roster.Result
	SubscribeResults(ch chan<- roster.Result) event.Subscription
}

type Funders struct {
	roster RosterReader
}

func NewFunders(r RosterReader) *Funders {
	return &Funders{roster: r}
}

func (h *Funders) AddRoutes(m *http.ServeMux) {
	m.Handle(GetFundersRoute, httpkit.HandlerFunc(h.GetFunders))
}

// GetFunders always answers 200; a failed tick shows up in the error field
// next to the last good snapshot
func (h *Funders) GetFunders(_ http.ResponseWriter, _ *http.Request) http.HandlerFunc {
	return httpkit.JSON(bind.FundersResponse(h.roster.Latest()))
}
