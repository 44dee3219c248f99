//go:build !debug

package build

// LogLevel specifies the default log level of stdout sub loggers.
var LogLevel = "info"
