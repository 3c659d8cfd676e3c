// Package logger provides a small factory around log/slog with env-driven
// configuration and typed attribute helpers shared across the engine.
//
// Usage:
//
//	var cfg logger.Config
//	config.MustLoad(&cfg)
//
//	log := logger.New(logger.WithConfig(cfg), logger.WithService("billingkit"))
//	logger.SetAsDefault(log)
package logger
