// Package logging configures the structured loggers used across netlens.
//
// Loggers are plain *slog.Logger values. Every component takes one in its
// constructor and tags its records with a component attribute:
//
//	log := logging.New(logging.Config{Level: logging.LevelDebug})
//	ic := interceptor.New(interceptor.Options{Logger: logging.Component(log, "interceptor")})
//
// Components given no logger fall back to Nop.
//
// Open additionally mirrors records to a log file, so a long capture session
// leaves a trail on disk while the terminal stays readable.
package logging
