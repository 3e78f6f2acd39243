package application_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/vpnsync/internal/application"
	"github.com/ericfisherdev/vpnsync/internal/domain/model"
)

type countingFullRefresher struct {
	calls atomic.Int32
}

func (c *countingFullRefresher) RefreshFull(context.Context) error {
	c.calls.Add(1)
	return nil
}

func TestPlanChangeNotifier_RefreshesAndPresents(t *testing.T) {
	events := application.NewEvents(nil)
	refresher := &countingFullRefresher{}
	alerts := &recordingAlerts{}

	n := application.NewPlanChangeNotifier(events, refresher, alerts, nil)

	// Published before Run starts and still delivered.
	events.PlanChanged.Publish(model.PlanChangeEvent{OldTier: model.TierPlus, NewTier: model.TierFree, Subject: "alex"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		n.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return alerts.planChangeCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), refresher.calls.Load())

	events.Delinquent.Publish(model.DelinquencyEvent{Subject: "alex", Tier: model.TierPlus})
	require.Eventually(t, func() bool { return alerts.delinquentCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), refresher.calls.Load(), "delinquency does not refresh the catalog")

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestPlanChangeNotifier_EndToEndFromStore(t *testing.T) {
	store, _ := newCredentialStore(t)
	refresher := &countingFullRefresher{}
	alerts := &recordingAlerts{}
	n := application.NewPlanChangeNotifier(store.Events(), refresher, alerts, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.Run(ctx)

	require.NoError(t, store.Store(ctx, authCredential(model.TierFree)))
	require.NoError(t, store.Store(ctx, authCredential(model.TierPlus)))

	require.Eventually(t, func() bool { return alerts.planChangeCount() == 1 }, time.Second, 5*time.Millisecond)

	alerts.mu.Lock()
	defer alerts.mu.Unlock()
	assert.False(t, alerts.planChanges[0].Downgrade())
}
