package config

import (
	"context"

	"github.com/musink/musink/pkg/confwatch"
)

// Watch calls onChange with the reloaded Config whenever path changes.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	return confwatch.Watch(ctx, path, Load, onChange)
}
