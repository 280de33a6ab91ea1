// Package scheduler fires recurring jobs on cron schedules and provides
// the lifecycle sweep those jobs run.
//
// Scheduler keeps a fixed set of entries in memory and checks them on a
// steady tick. A due entry submits its job through EnqueueFunc, which the
// engine supplies, and its next run is computed from the schedule.
//
// Sweeper walks entities whose time-triggered transitions have come due
// and moves them through the lifecycle machine.
package scheduler
