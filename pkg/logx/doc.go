// Package logx configures giveawaybot's structured logging.
//
// logx.Logger wraps zerolog: console output stays readable (short timestamp
// and caller), the file sink writes JSON lines, and an optional chat sink
// mirrors warnings to an operator chat under a rate limit.
package logx
