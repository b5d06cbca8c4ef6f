package channels

import "errors"

// Sentinel errors shared by all channel transports. Callers can classify
// failures with errors.Is without depending on adapter internals.
var (
	// ErrDisconnected reports that an underlying transport connection or
	// subprocess is no longer usable.
	ErrDisconnected = errors.New("channel disconnected")

	// ErrTimeout reports that a bounded wait on transport I/O elapsed.
	ErrTimeout = errors.New("channel timeout")

	// ErrProtocol reports a malformed or out-of-contract frame from the
	// remote side.
	ErrProtocol = errors.New("channel protocol error")

	// ErrUpstreamRejected reports that the remote service accepted the
	// connection but refused the request.
	ErrUpstreamRejected = errors.New("upstream rejected request")

	// ErrUnknownChannel reports a send routed to a channel name that is
	// not registered.
	ErrUnknownChannel = errors.New("unknown channel")
)
