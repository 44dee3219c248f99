//go:build tools

// Package tools pins the versions of the development tools used on the
// repository, such as the import formatter run over the coordinator and
// client packages.
package tools

import (
	_ "github.com/rinchsan/gosimports/cmd/gosimports"
)
