package tgui

import (
	"errors"
	"strings"
)

// MaxCallbackDataLen is Telegram's callback_data size limit in bytes.
const MaxCallbackDataLen = 64

var ErrCallbackDataTooLong = errors.New("tgui: callback_data too long")

// Data formats inline callback data as "scope:action:payload".
// Payload is kept as-is; the router splits on the first two colons only.
func Data(scope, action, payload string) string {
	scope = strings.TrimSpace(scope)
	action = strings.TrimSpace(action)
	if payload == "" {
		return scope + ":" + action
	}
	return scope + ":" + action + ":" + payload
}

// CheckedData is Data with the Telegram size limit enforced.
func CheckedData(scope, action, payload string) (string, error) {
	d := Data(scope, action, payload)
	if len(d) > MaxCallbackDataLen {
		return "", ErrCallbackDataTooLong
	}
	return d, nil
}
