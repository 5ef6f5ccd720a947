// Package scheduler registers schedules and turns their fire times into
// engine tasks. It never runs work itself:
//   - cron expressions and intervals for housekeeping jobs
//   - anchored schedules (anchor + k*every) for per-watch probe timers
package scheduler
