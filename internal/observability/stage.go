package observability

import "log/slog"

// WithStage adds a stage index and plugin name to the logger, honoring
// the log_plugin_index option (§6.1): when disabled, only the plugin
// name is attached, keeping log lines stable across pipelines with a
// different plugin count.
func WithStage(logger *slog.Logger, index int, name string, logPluginIndex bool) *slog.Logger {
	if logPluginIndex {
		return logger.With(slog.Int("stage", index), slog.String("plugin", name))
	}
	return logger.With(slog.String("plugin", name))
}
