// Package logger provides the structured logging interface used across the
// stream collector.
//
// It wraps zerolog with:
//   - Leveled logging (Debug, Info, Warn, Error, Fatal)
//   - Structured fields via WithField/WithFields/WithError
//   - Colored console output, or a log file plus console echo
//   - A {start} placeholder in log file names, expanded with ResolveFileName
//   - A global logger (Initialize, GetLogger) and a capturing TestLogger
//
// Basic Usage:
//
//	cfg := &config.LoggingConfig{
//	    Level: "info",
//	    File:  logger.ResolveFileName("logs/{start}_stream.log", time.Now()),
//	}
//	if err := logger.Initialize(cfg); err != nil {
//	    return err
//	}
//
//	log := logger.GetLogger().WithField("component", "session")
//	log.InfoWithFields("Stream opened", map[string]interface{}{
//	    "mode": "v2",
//	})
package logger
