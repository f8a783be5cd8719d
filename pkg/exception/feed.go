package exception

import "github.com/yanun0323/errors"

var (
	ErrFeedDisconnected = errors.New("feed: connection lost")
	ErrBackfillFailed   = errors.New("feed: backfill failed")
	ErrDataUnavailable  = errors.New("feed: market snapshot unavailable")
	ErrQueueFull        = errors.New("feed: update queue full")
	ErrQueueClosed      = errors.New("feed: update queue closed")
)
