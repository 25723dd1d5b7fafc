package bridge

import "errors"

// ErrUnavailable is returned by NewRedis when the backing pub/sub endpoint
// could not be reached after exhausting the connect retry budget. Callers
// should fall back to NewNoop and keep running — a missing distribution
// bridge degrades cross-instance relaying, not local operation.
var ErrUnavailable = errors.New("bridge: pub/sub endpoint unavailable")
