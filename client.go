package rewind

import "github.com/arloliu/rewind/types"

// Type aliases for convenience - re-export from types package.
type (
	Event            = types.Event
	Publish          = types.Publish
	PublishHook      = types.PublishHook
	Handshake        = types.Handshake
	RetentionMode    = types.RetentionMode
	RetentionPolicy  = types.RetentionPolicy
	Logger           = types.Logger
	MetricsCollector = types.MetricsCollector
)

// Re-export retention mode constants for convenience.
const (
	RetentionCount = types.RetentionCount
	RetentionAge   = types.RetentionAge
)
