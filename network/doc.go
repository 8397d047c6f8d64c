// Package network provides the ZeroMQ feed of gateway workflow events.
// This package implements:
// - Publisher: PUB socket fed by a bounded, non-blocking queue
// - Subscriber: SUB socket that decodes Arrow framed events
package network
