// Package web serves the FundMe HTTP and WebSocket API.
package web

import (
	"log/slog"
	"net/http"

	"github.com/screwyprof/fundme/pkg/logger"
	"github.com/screwyprof/fundme/web/handler"
)

// Deps are the services the API renders from
type Deps struct {
	Session handler.SessionService
	Roster  handler.RosterReader
	Actions handler.ActionTracker
	Notices handler.NoticeLog

	// CheckOrigin overrides the WebSocket origin policy when set
	CheckOrigin func(*http.Request) bool
}

// NewHandler registers every route and wraps the mux with request logging
func NewHandler(log *slog.Logger, d Deps) http.Handler {
	mux := http.NewServeMux()

	handler.NewSession(d.Session).AddRoutes(mux)
	handler.NewFunders(d.Roster).AddRoutes(mux)
	handler.NewActions(d.Actions).AddRoutes(mux)
	handler.NewNotifications(d.Notices).AddRoutes(mux)

	streamOpts := []handler.StreamOption{handler.WithStreamLogger(log)}
	if d.CheckOrigin != nil {
		streamOpts = append(streamOpts, handler.WithCheckOrigin(d.CheckOrigin))
	}
	handler.NewStream(d.Session, d.Roster, d.Actions, d.Notices, streamOpts...).AddRoutes(mux)

	return logger.NewMiddleware(log)(mux)
}
