package nsconfig

// OutputSink receives fired watch events. The transport layer
// (internal/transport) implements this over a websocket connection; tests
// use an in-memory stand-in. Returning an error (e.g. "peer closed")
// tells the coordinator to drop this watcher at the next natural
// boundary (§5 Cancellation).
type OutputSink interface {
	Send(event any) error
}

// Watcher is a standing subscription to one (root_path, labels, document)
// resolution, registered against the DocumentVersions it observes and
// every OverrideEntry its selector could match.
type Watcher struct {
	UID          string
	RootPath     string
	Labels       Labels
	Document     string
	LogLevel     string
	WithPosition bool
	Sink         OutputSink

	// lastChecksum suppresses a fire whose result is unchanged from the
	// last delivery (§4.E.2).
	lastChecksum *[32]byte
}

// LastChecksum returns the checksum of the last delivered result, if any.
func (w *Watcher) LastChecksum() (*[32]byte) { return w.lastChecksum }

// SetLastChecksum records the checksum just delivered.
func (w *Watcher) SetLastChecksum(sum [32]byte) { w.lastChecksum = &sum }
