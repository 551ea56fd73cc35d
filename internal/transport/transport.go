package transport

import (
	"context"
	"errors"
)

// ErrPeerGone is returned by Deliver when the addressed connection no longer
// exists. Callers should forget the connection.
var ErrPeerGone = errors.New("peer gone")

// Transport pushes a payload to a single connection.
type Transport interface {
	Deliver(ctx context.Context, connectionId string, payload []byte) error
}
