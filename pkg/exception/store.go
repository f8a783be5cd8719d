package exception

import "github.com/yanun0323/errors"

var (
	ErrBarFinalized       = errors.New("store: bar already finalized")
	ErrInsufficientWindow = errors.New("store: insufficient closed bars for window")
)
