// Package cron owns recurring schedules defined by 5-field cron patterns
// (minute, hour, day-of-month, month, day-of-week). A background loop fires
// due schedules, running each of their task names sequentially through the
// core.ScheduleRunner capability, then advances next-run strictly into the
// future so no occurrence ever fires twice. A schedule that errors is
// logged but never disabled.
package cron
