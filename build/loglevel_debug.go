//go:build debug

package build

// LogLevel specifies a debug log level for stdout sub loggers, used when
// chasing a flaky round transition in the unit tests.
var LogLevel = "debug"
