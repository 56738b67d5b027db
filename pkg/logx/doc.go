// Package logx is the structured logging wrapper used across schedbot.
//
// logx.Logger sits on top of zerolog:
//   - console output is readable (short timestamp, short caller)
//   - file output is JSON
//   - an optional Telegram sink forwards warnings to an operator chat, rate limited
package logx
