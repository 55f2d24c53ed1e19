// Package logx is a thin zerolog wrapper: readable console output,
// JSON file sink, and a Service that swaps level/sinks at runtime so a
// config reload re-levels every component logger in place.
package logx
