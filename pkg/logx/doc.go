// Package logx wraps zerolog for sitewatch.
//
// Console records are human readable with a short caller. The optional file
// sink writes JSON rotated by lumberjack. Records at or above a configured
// level can also be mirrored to the Telegram log chat as HTML, rate limited
// and dropped when the chat falls behind.
package logx
