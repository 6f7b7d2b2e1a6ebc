package client

import "errors"

var (
	// ErrNoServers is returned when every candidate URL failed.
	ErrNoServers = errors.New("nats: no servers available for connection")
	// ErrHandshake wraps failures between socket open and the first PONG.
	ErrHandshake = errors.New("nats: handshake failed")
	// ErrProtocol indicates a malformed frame from the server.
	ErrProtocol = errors.New("nats: protocol error")
	// ErrAuthorization indicates the server rejected the connection or an
	// operation with an authorization violation.
	ErrAuthorization = errors.New("nats: authorization violation")
	// ErrWriteFailed is set on commands whose bytes were part of a failed
	// socket flush.
	ErrWriteFailed = errors.New("nats: write to socket failed")
	// ErrConnectionLost is raised on pending requests and awaiting commands
	// when the connection drops.
	ErrConnectionLost = errors.New("nats: connection lost")
	// ErrDisposed is raised on operations against a closed client.
	ErrDisposed = errors.New("nats: client closed")
	// ErrStaleConnection aborts a socket whose pings went unanswered.
	ErrStaleConnection = errors.New("nats: stale connection")

	ErrBadSubject          = errors.New("nats: invalid subject")
	ErrHeadersNotSupported = errors.New("nats: server does not support headers")
	ErrTLSRequired         = errors.New("nats: tls required but not available")
	ErrMaxPayload          = errors.New("nats: maximum payload exceeded")
	ErrNoReply             = errors.New("nats: message has no reply subject")
	ErrNoResponders        = errors.New("nats: no responders available for request")
)
