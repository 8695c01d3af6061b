// Package broadcast fans out connection events and editor pushes to many
// concurrent subscribers.
//
// Each subscriber owns a bounded queue. A slow consumer is evicted after a
// short per-client timeout so one stalled stream can never block delivery
// to the others.
package broadcast
