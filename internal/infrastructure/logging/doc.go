// Package logging provides structured logging for brewlink.
//
// It wraps Go's standard log/slog package so the supervisor and every worker
// emit the same JSON (or text) records with default fields:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	devLog := logger.ForDevice("fermenter-1")
//	devLog.Info("controller connected", "port", "/dev/ttyACM0")
package logging
