package roster

// Subscriber handles event subscriptions.
type Subscriber struct {
	done            chan struct{}
	startedHandler  func(PollingStarted)
	snapshotHandler func(SnapshotProduced)
	restoredHandler func(SnapshotRestored)
	skippedHandler  func(AddressSkipped)
	idleHandler     func(PollingIdle)
	errorHandler    func(PollingError)
	archiveHandler  func(ArchiveError)
	shutdownHandler func(PollingShutdown)
}

// OnPollingStarted sets the handler for PollingStarted events
func OnPollingStarted(fn func(PollingStarted)) func(*Subscriber) {
	return func(s *Subscriber) { s.startedHandler = fn }
}

// OnSnapshotProduced sets the handler for SnapshotProduced events
func OnSnapshotProduced(fn func(SnapshotProduced)) func(*Subscriber) {
	return func(s *Subscriber) { s.snapshotHandler = fn }
}

// OnSnapshotRestored sets the handler for SnapshotRestored events
func OnSnapshotRestored(fn func(SnapshotRestored)) func(*Subscriber) {
	return func(s *Subscriber) { s.restoredHandler = fn }
}

// OnAddressSkipped sets the handler for AddressSkipped events
func OnAddressSkipped(fn func(AddressSkipped)) func(*Subscriber) {
	return func(s *Subscriber) { s.skippedHandler = fn }
}

// OnPollingIdle sets the handler for PollingIdle events
func OnPollingIdle(fn func(PollingIdle)) func(*Subscriber) {
	return func(s *Subscriber) { s.idleHandler = fn }
}

// OnPollingError sets the handler for PollingError events
func OnPollingError(fn func(PollingError)) func(*Subscriber) {
	return func(s *Subscriber) { s.errorHandler = fn }
}

// OnArchiveError sets the handler for ArchiveError events
func OnArchiveError(fn func(ArchiveError)) func(*Subscriber) {
	return func(s *Subscriber) { s.archiveHandler = fn }
}

// OnPollingShutdown sets the handler for PollingShutdown events
func OnPollingShutdown(fn func(PollingShutdown)) func(*Subscriber) {
	return func(s *Subscriber) { s.shutdownHandler = fn }
}

// NewSubscriber creates a Subscriber with the given options and starts the dispatch loop.
// Returns a closer function that waits for all events to be processed.
//
// Example:
//
//	closer := roster.NewSubscriber(events,
//	  roster.OnSnapshotProduced(func(e roster.SnapshotProduced) { ... }),
//	)
//	defer closer()  // Ensures all events processed before exit
func NewSubscriber(events <-chan Event, opts ...func(*Subscriber)) func() {
	s := &Subscriber{
		done:            make(chan struct{}),
		startedHandler:  func(PollingStarted) {},   // nop by default
		snapshotHandler: func(SnapshotProduced) {}, // nop by default
		restoredHandler: func(SnapshotRestored) {}, // nop by default
		skippedHandler:  func(AddressSkipped) {},   // nop by default
		idleHandler:     func(PollingIdle) {},      // nop by default
		errorHandler:    func(PollingError) {},     // nop by default
		archiveHandler:  func(ArchiveError) {},     // nop by default
		shutdownHandler: func(PollingShutdown) {},  // nop by default
	}

	for _, opt := range opts {
		opt(s)
	}

	go func() {
		defer close(s.done)
		for ev := range events {
			switch e := ev.(type) {
			case PollingStarted:
				s.startedHandler(e)
			case SnapshotProduced:
				s.snapshotHandler(e)
			case SnapshotRestored:
				s.restoredHandler(e)
			case AddressSkipped:
				s.skippedHandler(e)
			case PollingIdle:
				s.idleHandler(e)
			case PollingError:
				s.errorHandler(e)
			case ArchiveError:
				s.archiveHandler(e)
			case PollingShutdown:
				s.shutdownHandler(e)
			}
		}
	}()

	return func() {
		<-s.done
	}
}
