package tgui

import "errors"

// MaxCallbackDataLen is Telegram's callback_data size limit in bytes, for
// the full "scope:action:payload" string.
const MaxCallbackDataLen = 64

// MaxButtonText is a practical cap for inline button labels; Telegram
// clients truncate longer ones.
const MaxButtonText = 64

var ErrCallbackDataTooLong = errors.New("tgui: callback_data too long")
