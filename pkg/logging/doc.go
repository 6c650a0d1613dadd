// Package logging provides structured logging configuration for protogate.
//
// This package wraps log/slog to provide consistent logging across all
// components. It supports configurable log levels and output formats.
//
// Create a logger with desired configuration:
//
//	logger := logging.New(logging.Config{
//	    Level:  logging.LevelInfo,
//	    Format: logging.FormatText,
//	})
//
//	logger.Info("bridge started", "addr", ":8080")
//	logger.Error("discovery failed", "error", err)
//
// Components accept a *slog.Logger in their constructor or via an option.
// When a logger is required but logging is disabled, use logging.Nop().
package logging
