// Package xfer exposes the transfer manager builder.
package xfer

import (
	"github.com/adamwoolhether/xfer/manager"
)

// New instantiates a new *manager.Manager with the provided options.
// If not specified, downloads are cached under the user cache directory
// and transfers run over net/http sessions.
func New(opts ...manager.Option) (*manager.Manager, error) {
	return manager.Build(opts...)
}
