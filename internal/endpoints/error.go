package endpoints

import (
	"errors"
)

const (
	API_SUCCESS = iota + 303000 // 303000
	API_FAILURE                 // 303001 - Generic API failure
)

const (
	UPGRADE_REQUIRED  = iota + 101 // 101 - Request is not a websocket handshake
	RELAY_UNAVAILABLE              // 102 - Subscriber could not be registered
)

var (
	ErrUpgradeRequired  = errors.New("websocket upgrade required")
	ErrRelayUnavailable = errors.New("relay is not available")
)

func GetErrorCode(err error) int {
	if err == nil {
		return API_SUCCESS
	}

	switch {
	case errors.Is(err, ErrUpgradeRequired):
		return UPGRADE_REQUIRED
	case errors.Is(err, ErrRelayUnavailable):
		return RELAY_UNAVAILABLE
	default:
		return API_FAILURE
	}
}
