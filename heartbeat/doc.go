// Package heartbeat provides optional liveness signals between participants.
//
// # Overview
//
// While the supervisor is running it may append a "heartbeat" message to
// the messages log at a fixed interval. Heartbeats are not critical: a
// failed append is logged and the next tick tries again.
//
// A Monitor builds a roster of participants from the same log. It records
// "started" and "exited" announcements by session id and flags
// participants whose heartbeats stop. It never triggers a shutdown.
//
//	┌─────────────┐   messages: heartbeat   ┌─────────────┐
//	│   Sender    │ ──────────────────────> │   Monitor   │
//	│ (any role)  │   started / exited      │ (supervisor)│
//	└─────────────┘                         └─────────────┘
//
// # Usage
//
//	sender, _ := heartbeat.NewSender(heartbeat.SenderConfig{
//	    Publisher: writer,
//	    Interval:  time.Second,
//	})
//	sender.Start(ctx)
//
//	monitor, _ := heartbeat.NewMonitor(heartbeat.MonitorConfig{
//	    Self:    string(session),
//	    Timeout: 5 * time.Second,
//	})
//	monitor.OnDead(func(p heartbeat.Participant) {
//	    log.Printf("%s (%s) went quiet", p.Sender, p.SenderID)
//	})
//	monitor.Start(ctx)
//	tailer.Run(ctx, monitor.Observe)
package heartbeat
