// Package logx configures framesched's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps console output readable
// (short timestamp + short caller) and file output JSON-structured. The active
// sinks can be swapped at runtime with Service.Apply.
package logx
