package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/ethereum/go-ethereum/event"

	"github.com/screwyprof/fundme/pkg/httpkit"
	"github.com/screwyprof/fundme/session"
	"github.com/screwyprof/fundme/wallet"
	"github.com/screwyprof/fundme/web/api"
	"github.com/screwyprof/fundme/web/handler/bind"
)

const (
	GetSessionRoute     = http.MethodGet + " " + "/session"
	PostConnectRoute    = http.MethodPost + " " + "/session/connect"
	PostDisconnectRoute = http.MethodPost + " " + "/session/disconnect"
)

// SessionService is the wallet session the API drives
type SessionService interface {
	State() session.State
	Connect(ctx context.Context) (session.State, error)
	Disconnect(ctx context.Context) error
	Subscribe(ch chan<- session.State) event.Subscription
}

type Session struct {
	session SessionService
}

func NewSession(s SessionService) *Session {
	return &Session{session: s}
}

func (h *Session) AddRoutes(m *http.ServeMux) {
	m.Handle(GetSessionRoute, httpkit.HandlerFunc(h.GetSession))
	m.Handle(PostConnectRoute, httpkit.HandlerFunc(h.Connect))
	m.Handle(PostDisconnectRoute, httpkit.HandlerFunc(h.Disconnect))
}

func (h *Session) GetSession(_ http.ResponseWriter, _ *http.Request) http.HandlerFunc {
	return httpkit.JSON(bind.SessionResponse(h.session.State()))
}

// Connect requests account access. An owner lookup failure still connects.
func (h *Session) Connect(_ http.ResponseWriter, r *http.Request) http.HandlerFunc {
	state, err := h.session.Connect(r.Context())
	switch {
	case err == nil, errors.Is(err, session.ErrOwnerFetch):
		return httpkit.JSON(bind.SessionResponse(state))
	case errors.Is(err, session.ErrWalletUnavailable):
		return httpkit.JsonError(api.ServiceUnavailable(err))
	case errors.Is(err, wallet.ErrUserRejected):
		return httpkit.JsonError(api.Forbidden(wallet.ErrUserRejected))
	default:
		return httpkit.JsonError(api.InternalServerError(err))
	}
}

// Disconnect clears the session; the response says whether the user must
// still revoke access in the wallet
func (h *Session) Disconnect(_ http.ResponseWriter, r *http.Request) http.HandlerFunc {
	err := h.session.Disconnect(r.Context())
	switch {
	case err == nil:
		return httpkit.JSON(api.DisconnectResponse{})
	case errors.Is(err, session.ErrManualRevokeRequired):
		return httpkit.JSON(api.DisconnectResponse{ManualRevokeRequired: true})
	default:
		return httpkit.JsonError(api.InternalServerError(err))
	}
}
