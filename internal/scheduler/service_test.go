package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kleio/mentions-monitor/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockReconciler struct {
	mock.Mock
}

func (m *mockReconciler) Reconcile(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func TestService_RunOnce(t *testing.T) {
	reconciler := &mockReconciler{}
	reconciler.On("Reconcile", mock.Anything).Return(nil).Once()
	reconciler.On("Reconcile", mock.Anything).Return(errors.New("store unavailable")).Once()

	svc := NewService(&config.Config{ReconcileSchedule: "@every 1h"}, reconciler)
	svc.RunOnce()
	svc.RunOnce()

	total, failed := svc.Runs()
	assert.Equal(t, int64(2), total)
	assert.Equal(t, int64(1), failed)
	reconciler.AssertExpectations(t)
}

func TestService_TicksOnSchedule(t *testing.T) {
	reconciler := &mockReconciler{}
	reconciler.On("Reconcile", mock.Anything).Return(nil)

	svc := NewService(&config.Config{ReconcileSchedule: "@every 1s"}, reconciler)
	require.NoError(t, svc.Start(context.Background()))
	defer svc.Stop()

	require.Eventually(t, func() bool {
		total, _ := svc.Runs()
		return total >= 1
	}, 3*time.Second, 50*time.Millisecond)
}

func TestService_InvalidSchedule(t *testing.T) {
	svc := NewService(&config.Config{ReconcileSchedule: "not a schedule"}, &mockReconciler{})
	assert.Error(t, svc.Start(context.Background()))
}
