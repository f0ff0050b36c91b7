package v1

import (
	"context"

	"github.com/gosuda/boardsync/internal/realtime"
)

// Dispatcher abstracts synchronous delivery for handler testing.
// *realtime.Dispatcher satisfies this interface.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev realtime.ChangeEvent) int
	DispatchCustom(ctx context.Context, channel, eventType string, data any) int
}

// ConnectionStats abstracts registry counters for handler testing.
// *realtime.Registry satisfies this interface.
type ConnectionStats interface {
	Stats() realtime.RegistryStats
}
