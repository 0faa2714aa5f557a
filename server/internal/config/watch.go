package config

import (
	"context"

	"github.com/musink/musink/pkg/confwatch"
)

// Watch calls onChange with the reloaded Config each time path changes. It
// runs until ctx is cancelled. A reload that fails validation is logged and
// the previous config stays active.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	return confwatch.Watch(ctx, path, Load, onChange)
}
