package telemetry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	mu        sync.Mutex
	events    []ProbeEvent
	finalized []string
}

func (o *recordingObserver) EventRecorded(_ *Run, ev ProbeEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, ev)
}

func (o *recordingObserver) RunFinalized(r *Run) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finalized = append(o.finalized, r.ID)
}

func TestRunExtract(t *testing.T) {
	obs := &recordingObserver{}
	set := NewRunSet(obs)
	run := set.NewRun(Meta{Technology: "html5"})

	msgs := []Message{
		{Event: EventPageLoaded, Timestamp: 100},
		{Event: EventDocumentReady, Timestamp: 110},
		{Event: EventPlayerReady, Timestamp: 150},
		{Event: EventVideoDuration, Data: 61.8, Timestamp: 151},
		{Event: EventPlayerStateChange, Data: "playing", Timestamp: 220},
		{Event: "somethingElse", Timestamp: 230},
	}
	for _, msg := range msgs {
		require.NoError(t, run.Extract(msg))
	}

	assert.Len(t, run.Events(), 3)
	assert.Equal(t, int64(61), run.VideoDuration())
	assert.False(t, run.Finished())
	assert.Same(t, run, set.Active())

	require.NoError(t, run.Extract(Message{Event: EventFinished, Timestamp: 300}))
	select {
	case <-run.Done():
	default:
		t.Fatal("Done() not closed after finished")
	}

	m, ok := run.Metrics()
	require.True(t, ok)
	assert.InDelta(t, 50, *m.PlayerLoadTime, 1e-9)
	assert.InDelta(t, 70, *m.StartupDelay, 1e-9)
	assert.Equal(t, int64(61), m.VideoDuration)

	assert.Nil(t, set.Active())
	assert.Equal(t, []*Run{run}, set.Completed())
	assert.Len(t, obs.events, 3)
	assert.Equal(t, []string{run.ID}, obs.finalized)
}

func TestRunVideoDurationLastWins(t *testing.T) {
	run := NewRunSet().NewRun(Meta{})
	require.NoError(t, run.Extract(Message{Event: EventVideoDuration, Data: "30"}))
	require.NoError(t, run.Extract(Message{Event: EventVideoDuration, Data: "45abc"}))
	assert.Equal(t, int64(45), run.VideoDuration())
}

func TestRunFinalizeIsIdempotent(t *testing.T) {
	obs := &recordingObserver{}
	set := NewRunSet(obs)
	run := set.NewRun(Meta{})

	_, err := run.Finalize()
	require.ErrorIs(t, err, ErrMissingTelemetryEvent)

	err = run.Extract(Message{Event: EventFinished})
	require.ErrorIs(t, err, ErrMissingTelemetryEvent)

	require.NoError(t, run.Extract(Message{Event: EventPageLoaded, Timestamp: 1}))
	assert.Empty(t, run.Events(), "events after finish are dropped")
	assert.Len(t, set.Completed(), 1)
	assert.Len(t, obs.finalized, 1)
}

func TestRunReport(t *testing.T) {
	run := NewRunSet().NewRun(Meta{Name: "sample", Technology: "youtube"})
	require.NoError(t, run.Extract(Message{Event: EventPageLoaded, Timestamp: 1}))

	rep := run.Report(false)
	assert.Equal(t, run.ID, rep.ID)
	assert.False(t, rep.Finished)
	assert.Nil(t, rep.Metrics)
	assert.Nil(t, rep.Events)
	assert.Equal(t, 1, rep.EventCount)

	_, _ = run.Finalize()
	rep = run.Report(true)
	assert.True(t, rep.Finished)
	require.NotNil(t, rep.Metrics)
	require.NotNil(t, rep.FinishedAt)
	assert.Len(t, rep.Events, 1)
	assert.Contains(t, rep.Error, EventPlayerReady)
}

func TestRunSetGet(t *testing.T) {
	set := NewRunSet()
	first := set.NewRun(Meta{})
	_, _ = first.Finalize()
	second := set.NewRun(Meta{})

	got, err := set.Get(first.ID)
	require.NoError(t, err)
	assert.Same(t, first, got)

	got, err = set.Get(second.ID)
	require.NoError(t, err)
	assert.Same(t, second, got)

	_, err = set.Get("nope")
	assert.ErrorIs(t, err, ErrRunNotFound)

	assert.Equal(t, []*Run{first, second}, set.All())
	assert.NotEqual(t, first.ID, second.ID)
}
