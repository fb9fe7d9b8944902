package main

import (
	"context"
	"log/slog"

	"github.com/screwyprof/fundme/notify"
	"github.com/screwyprof/fundme/pkg/logger"
	"github.com/screwyprof/fundme/roster"
)

// setupEventLogging logs roster lifecycle events and turns fetch failures into notices
func setupEventLogging(ctx context.Context, events <-chan roster.Event, log *slog.Logger, center *notify.Center) func() {
	log = logger.Component(log, "roster")

	return roster.NewSubscriber(events,
		roster.OnPollingStarted(func(event roster.PollingStarted) {
			log.InfoContext(ctx, "Polling started", slog.Duration("interval", event.Interval))
		}),
		roster.OnSnapshotRestored(func(event roster.SnapshotRestored) {
			log.InfoContext(ctx, "Snapshot restored from archive",
				slog.Int("funders", len(event.Snapshot.Contributors)),
				slog.String("fetchedAt", event.Snapshot.FetchedAt.Format(logger.BritishTimeFormat)),
			)
		}),
		roster.OnSnapshotProduced(func(event roster.SnapshotProduced) {
			log.InfoContext(ctx, "Polling cycle completed",
				slog.Int("funders", len(event.Snapshot.Contributors)),
				slog.Int("skipped", event.Snapshot.Skipped),
				slog.Duration("duration", event.Duration),
			)
		}),
		roster.OnAddressSkipped(func(event roster.AddressSkipped) {
			log.WarnContext(ctx, "Funder skipped",
				slog.String("address", event.Address.Hex()),
				slog.Any("error", event.Err),
			)
		}),
		roster.OnPollingIdle(func(event roster.PollingIdle) {
			log.DebugContext(ctx, "Polling idle", slog.Any("reason", event.Reason))
		}),
		roster.OnPollingError(func(event roster.PollingError) {
			log.ErrorContext(ctx, "Polling failed", slog.Any("error", event.Err))
			center.Notify(ctx, notify.Notice{
				Level:   notify.Error,
				Topic:   "funders",
				Message: "Could not load the funder list",
			})
		}),
		roster.OnArchiveError(func(event roster.ArchiveError) {
			log.ErrorContext(ctx, "Archive failed", slog.Any("error", event.Err))
		}),
		roster.OnPollingShutdown(func(event roster.PollingShutdown) {
			log.InfoContext(ctx, "Polling stopped", slog.Any("reason", event.Reason))
		}),
	)
}
