package mqtt

import "errors"

// ErrInvalidTopic is returned for topics outside the bridge layout.
var ErrInvalidTopic = errors.New("invalid topic")

// ErrNotConnected is returned when publishing without a broker connection.
var ErrNotConnected = errors.New("mqtt client not connected")
