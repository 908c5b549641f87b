// Package solves holds the daily-solves domain: submission windowing,
// title deduplication and the collector that persists each run.
package solves
