// Package daemon schedules sync cycles for the knowledge-base tree.
//
// # Architecture
//
// The daemon consists of several components:
//
//   - Daemon: runs sync.Syncer cycles on an interval, after edits settle, on
//     demand and once more at session end
//   - FileWatcher: fsnotify watch on the local document file, so a save by
//     another process triggers a cycle
//   - EventSink: receives written, merged, conflict and halt events
//
// # Scheduling
//
//	d, err := daemon.New(syncer, t, daemon.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer d.Close()
//
//	d.AddSink(daemon.LogSink{Logger: logger})
//	d.Enable()
//
//	// ... edits to t re-arm the debounce timer ...
//
//	if _, err := d.Flush(ctx); err != nil {
//	    log.Printf("final sync failed: %v", err)
//	}
//
// Only one cycle runs at a time. A timer that fires while a cycle is in
// flight is dropped, not queued; the interval catches up. Merges applied by
// the syncer do not count as edits.
//
// # Error Handling
//
//   - network errors and timeouts are logged and retried on the next interval
//   - auth errors are counted; MaxAuthFailures in a row halt the schedule
//   - a configuration error halts the schedule at once
//   - a conflict the syncer could not settle pauses the schedule
//
// A halted daemon stays halted until Enable is called again. Manual cycles
// through Now still run while halted.
//
// # File Watching
//
//	if err := d.WatchFile(".kbsync/kb.json"); err != nil {
//	    log.Fatal(err)
//	}
//
// The watcher observes the parent directory and filters for the one file, so
// it survives the atomic rename the file store uses on save. A write counts
// as an edit; the next cycle re-reads the store under its lock when the
// syncer is configured with SharedStore.
package daemon
