// Package arrow encodes gateway workflow events as Apache Arrow records.
// This package implements:
// - The workflow event schema
// - Conversion between gateway events and record batches
// - Arrow IPC framing for the event feed
package arrow
