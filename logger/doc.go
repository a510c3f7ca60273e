// Package logger builds the zap logger of the forkserver CLI.
//
// Development mode logs colored console lines, production mode logs JSON
// with ISO8601 timestamps. Both write to stderr so command output on stdout
// stays parseable.
package logger
