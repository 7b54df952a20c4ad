// Package jobs runs the tally aggregator's background work on cron schedules:
// the daily summary rollup, the hourly expired-key sweep, and the optional
// daily S3 archive of the previous day's events.
package jobs
