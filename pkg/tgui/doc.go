// Package tgui holds small Telegram UI helpers: inline keyboards with
// length-checked callback data, HTML escaping, a card builder and a token
// store for payloads too long for callback_data.
package tgui
