package audithook

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xinyao/wuxing-premium/entitlement"
)

type captureRecorder struct {
	events []*AuditEvent
}

func (c *captureRecorder) Record(_ context.Context, evt *AuditEvent) error {
	c.events = append(c.events, evt)
	return nil
}

func TestStateResolvedSeverity(t *testing.T) {
	rec := &captureRecorder{}
	ext := New(rec)
	ctx := context.Background()

	require.NoError(t, ext.OnStateResolved(ctx, entitlement.ResolvedState{
		IsPremium:  true,
		ResolvedAt: time.Now(),
		Staleness:  entitlement.StalenessFresh,
	}))
	require.NoError(t, ext.OnStateResolved(ctx, entitlement.ResolvedState{
		ResolvedAt: time.Now(),
		Staleness:  entitlement.StalenessNetworkError,
	}))

	require.Len(t, rec.events, 2)
	assert.Equal(t, ActionStateResolved, rec.events[0].Action)
	assert.Equal(t, SeverityInfo, rec.events[0].Severity)
	assert.Equal(t, ActionStateInconclusive, rec.events[1].Action)
	assert.Equal(t, SeverityWarning, rec.events[1].Severity)
}

func TestVerificationFailureIsCritical(t *testing.T) {
	rec := &captureRecorder{}
	ext := New(rec)

	require.NoError(t, ext.OnVerificationFailed(context.Background(), "txn_bad"))

	require.Len(t, rec.events, 1)
	assert.Equal(t, SeverityCritical, rec.events[0].Severity)
	assert.Equal(t, OutcomeFailure, rec.events[0].Outcome)
	assert.Equal(t, "txn_bad", rec.events[0].ResourceID)
}

func TestLedgerPushFailureCarriesReason(t *testing.T) {
	rec := &captureRecorder{}
	ext := New(rec)

	require.NoError(t, ext.OnLedgerPushFailed(context.Background(), "txn_1", errors.New("503")))

	require.Len(t, rec.events, 1)
	assert.Equal(t, "503", rec.events[0].Reason)
}

func TestDisabledActionsAreSkipped(t *testing.T) {
	rec := &captureRecorder{}
	ext := New(rec, WithDisabledActions(ActionLocalChanged))

	require.NoError(t, ext.OnLocalChanged(context.Background(), nil))
	require.NoError(t, ext.OnRecordExpired(context.Background(), "txn_1"))

	require.Len(t, rec.events, 1)
	assert.Equal(t, ActionRecordExpired, rec.events[0].Action)
}

func TestRecorderFailureDoesNotPropagate(t *testing.T) {
	ext := New(RecorderFunc(func(context.Context, *AuditEvent) error {
		return errors.New("trail down")
	}))

	assert.NoError(t, ext.OnRecordExpired(context.Background(), "txn_1"))
}
