package transport

import "errors"

var (
	errNotConnected  = errors.New("transport: not connected")
	errPublishFailed = errors.New("transport: publish failed")
)
