// Package tgui holds small Telegram UI helpers: inline keyboard builders,
// "scope:action:payload" callback data, and escaping for ParseMode HTML.
package tgui
