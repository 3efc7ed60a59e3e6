package pshost

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type mockHost struct {
	mock.Mock
}

func (m *mockHost) Run(ctx context.Context, script string, params map[string]any) ([]map[string]any, error) {
	args := m.Called(ctx, script, params)
	rows, _ := args.Get(0).([]map[string]any)
	return rows, args.Error(1)
}

func scalars(vals ...any) []map[string]any {
	rows := make([]map[string]any, 0, len(vals))
	for _, v := range vals {
		rows = append(rows, map[string]any{ValueKey: v})
	}
	return rows
}
