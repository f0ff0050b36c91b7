package v1_test

import (
	"context"

	"github.com/gosuda/boardsync/internal/realtime"
)

// ---------------------------------------------------------------------------
// Mock Dispatcher
// ---------------------------------------------------------------------------

type mockDispatcher struct {
	dispatchFunc       func(ctx context.Context, ev realtime.ChangeEvent) int
	dispatchCustomFunc func(ctx context.Context, channel, eventType string, data any) int
}

func (m *mockDispatcher) Dispatch(ctx context.Context, ev realtime.ChangeEvent) int {
	return m.dispatchFunc(ctx, ev)
}

func (m *mockDispatcher) DispatchCustom(ctx context.Context, channel, eventType string, data any) int {
	return m.dispatchCustomFunc(ctx, channel, eventType, data)
}

// ---------------------------------------------------------------------------
// Mock ConnectionStats
// ---------------------------------------------------------------------------

type mockStats struct {
	stats realtime.RegistryStats
}

func (m *mockStats) Stats() realtime.RegistryStats { return m.stats }
