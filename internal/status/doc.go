// Package status implements the aggregation facade for polling consumers.
//
// The Manager keeps a merged current-status snapshot and republishes it to
// individual streams every few seconds, re-checking connection health
// through the monitor on each tick.
package status
