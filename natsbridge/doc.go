// Package natsbridge publishes lifecycle and health events to NATS.
//
// The bridge subscribes to the system event bus and republishes each
// event as JSON on a subject derived from its kind, so external
// consumers can follow service state without linking against this
// module. Publishing is narrow by design: the Publisher interface is
// the only NATS surface the bridge touches, which keeps it testable
// with a stub.
package natsbridge
