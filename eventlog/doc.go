// Package eventlog provides the ordered, append-only logs that carry
// lifecycle announcements and committed speech text between participants.
//
// Two logs exist, "messages" and "spoken_texts". Both hold the same entry
// shape:
//
//	{time, sender, sender_id, message | speech}
//
// # Positions
//
// Every backend assigns each appended entry a Position that is strictly
// increasing in append order across all writers. Before (zero) marks the
// spot ahead of the first entry.
//
// # Backends
//
//   - Memory: in-process, for tests and single-process tools
//   - Mongo: capped collections with a counter-assigned _id and tailable
//     await-data cursors
//   - JetStream: one NATS stream per log; the stream sequence is the position
//   - SQLite: one AUTOINCREMENT table per log, shared by processes on the
//     same machine
//
// # Tailing
//
// A Tailer follows one log from a resume position and calls a function for
// each new entry in position order, once. When started with Before it tails
// "from now" and seeds an empty log with a sentinel entry so a concrete
// starting id exists before it subscribes. Cursor failures are retried from
// the last delivered position, and duplicates are dropped by position.
// Entries that arrive ahead of a missing id are held until the gap fills or
// the gap timeout expires.
//
// Example:
//
//	mem := eventlog.NewMemory()
//	log, _ := mem.Log(eventlog.SpokenTexts)
//	t := eventlog.NewTailer(log, eventlog.TailerConfig{})
//	go t.Run(ctx, func(r eventlog.Record) error {
//	    fmt.Println(r.ID, r.Entry.Text)
//	    return nil
//	})
package eventlog
