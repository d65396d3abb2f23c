// Package live keeps one progress poller running per topic that has
// subscribers and fans each new sample out to them.
//
// Registry counts subscribers per topic. The 0→1 transition asks the
// Supervisor to start the topic's poller and the 1→0 transition asks it to
// stop and waits until the poller has fully stopped. Both requests are issued
// while the topic's registry lock is held, so the Supervisor observes them in
// the same order as the count transitions.
//
// Supervisor owns the poller lifecycle (Starting → Running → Stopping →
// Stopped) and guarantees at most one non-stopped poller per topic. A start
// that arrives while a stop is in flight is queued and performed as soon as
// the old poller reaches Stopped.
//
// A poller sleeps for the configured interval, reads the latest sample from
// the domain.ProgressStore, and broadcasts it through the domain.Fanout when
// it differs from the last sample it broadcast. The last-broadcast snapshot
// lives only as long as the poller instance.
package live
