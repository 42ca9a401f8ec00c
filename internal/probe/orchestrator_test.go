package probe

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/activeprobe/internal/cdp"
	"github.com/dgnsrekt/activeprobe/internal/telemetry"
)

type sentCommand struct {
	id     int64
	method string
	params json.RawMessage
	fn     cdp.ResultHandler
}

type fakeSession struct {
	sent    []sentCommand
	events  map[string]cdp.EventHandler
	closed  int
	sendErr error
}

func newFakeSession() *fakeSession {
	return &fakeSession{events: make(map[string]cdp.EventHandler)}
}

func (f *fakeSession) Send(method string, params any, fn cdp.ResultHandler) (int64, error) {
	id := int64(len(f.sent))
	if f.sendErr != nil {
		return id, f.sendErr
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return id, err
	}
	f.sent = append(f.sent, sentCommand{id: id, method: method, params: raw, fn: fn})
	return id, nil
}

func (f *fakeSession) On(method string, fn cdp.EventHandler) { f.events[method] = fn }

func (f *fakeSession) Close() error {
	f.closed++
	return nil
}

func (f *fakeSession) methods() []string {
	out := make([]string, len(f.sent))
	for i, c := range f.sent {
		out[i] = c.method
	}
	return out
}

func (f *fakeSession) console(t *testing.T, text string) {
	t.Helper()
	fn := f.events[methodConsoleMessageAdded]
	require.NotNil(t, fn, "no console subscription")
	params, err := json.Marshal(map[string]any{
		"message": map[string]string{"source": "console-api", "level": "log", "text": text},
	})
	require.NoError(t, err)
	fn(params)
}

func probeLine(event string, data any, ts float64) string {
	b, _ := json.Marshal(map[string]any{"event": event, "message": event, "data": data, "timestamp": ts})
	return DefaultPrefix + string(b)
}

func startOrchestrator(t *testing.T, closeOnFinish bool) (*Orchestrator, *fakeSession, *telemetry.RunSet) {
	t.Helper()
	sess := newFakeSession()
	runs := telemetry.NewRunSet()
	o := NewOrchestrator(sess, runs, Settings{
		PageURL:       "file:///srv/html/html5.html?1700000000",
		VideoURL:      "https://cdn.example.com/clip.mp4",
		Technology:    TechnologyHTML5,
		CloseOnFinish: closeOnFinish,
	})
	require.NoError(t, o.Start())
	return o, sess, runs
}

func TestOrchestratorStart(t *testing.T) {
	o, sess, runs := startOrchestrator(t, true)

	assert.Equal(t, []string{page.CommandNavigate, methodConsoleEnable, runtime.CommandEnable}, sess.methods())
	assert.JSONEq(t, `{"url":"file:///srv/html/html5.html?1700000000"}`, string(sess.sent[0].params))
	assert.JSONEq(t, `{}`, string(sess.sent[2].params))
	assert.Contains(t, sess.events, methodConsoleMessageAdded)

	require.NotNil(t, o.Run())
	assert.Same(t, o.Run(), runs.Active())
	assert.Equal(t, TechnologyHTML5, o.Run().Meta.Technology)
}

func TestOrchestratorStartSendFailure(t *testing.T) {
	sess := newFakeSession()
	sess.sendErr = errors.New("not connected")
	runs := telemetry.NewRunSet()
	o := NewOrchestrator(sess, runs, Settings{PageURL: "about:blank"})

	err := o.Start()
	require.Error(t, err)
	assert.Nil(t, o.Run())
	assert.Nil(t, runs.Active())
}

func TestOrchestratorDocumentReadyInjectsPlayer(t *testing.T) {
	o, sess, _ := startOrchestrator(t, true)

	sess.console(t, probeLine(telemetry.EventDocumentReady, nil, 90))

	require.Len(t, sess.sent, 4)
	eval := sess.sent[3]
	assert.Equal(t, runtime.CommandEvaluate, eval.method)
	var params struct {
		Expression string `json:"expression"`
	}
	require.NoError(t, json.Unmarshal(eval.params, &params))
	assert.Equal(t, PlayerScript("https://cdn.example.com/clip.mp4", TechnologyHTML5), params.Expression)
	assert.Empty(t, o.Run().Events(), "documentReady is not recorded")

	// Exception details are only logged.
	eval.fn(json.RawMessage(`{"result":{"type":"undefined"},"exceptionDetails":{"text":"Uncaught","exception":{"description":"ReferenceError: probe"}}}`), nil)
	eval.fn(nil, errors.New("timed out"))
}

func TestOrchestratorIgnoresForeignAndMalformedLines(t *testing.T) {
	o, sess, _ := startOrchestrator(t, true)

	sess.console(t, "Failed to load resource: net::ERR_FILE_NOT_FOUND")
	sess.console(t, "[PROBE] {broken")
	sess.events[methodConsoleMessageAdded](json.RawMessage(`{"message":`))

	assert.Empty(t, o.Run().Events())
	assert.Len(t, sess.sent, 3)
}

func TestOrchestratorFullRun(t *testing.T) {
	o, sess, runs := startOrchestrator(t, true)

	for _, line := range []string{
		probeLine(telemetry.EventPageLoaded, nil, 100),
		probeLine(telemetry.EventDocumentReady, nil, 110),
		probeLine(telemetry.EventPlayerReady, nil, 150),
		probeLine(telemetry.EventVideoDuration, 30.5, 151),
		probeLine(telemetry.EventPlayerStateChange, "playing", 220),
		probeLine(telemetry.EventPlayerStateChange, "stalling", 300),
		probeLine(telemetry.EventPlayerStateChange, "playing", 340),
		probeLine(telemetry.EventPlayerQualityChange, "hd720", 400),
	} {
		sess.console(t, line)
	}

	select {
	case <-o.Done():
		t.Fatal("Done() closed before finished")
	default:
	}

	sess.console(t, probeLine(telemetry.EventFinished, nil, 500))
	sess.console(t, probeLine(telemetry.EventFinished, nil, 600))

	select {
	case <-o.Done():
	default:
		t.Fatal("Done() not closed after finished")
	}
	assert.Equal(t, 1, sess.closed)

	run := o.Run()
	m, ok := run.Metrics()
	require.True(t, ok)
	require.NoError(t, run.Err())
	assert.InDelta(t, 50, *m.PlayerLoadTime, 1e-9)
	assert.InDelta(t, 70, *m.StartupDelay, 1e-9)
	assert.Equal(t, int64(30), m.VideoDuration)
	assert.Equal(t, []telemetry.StallingEpisode{{Start: 300, Duration: 40}}, m.StallingEpisodes)
	assert.Equal(t, []telemetry.QualitySwitch{{Timestamp: 400, Level: "hd720"}}, m.QualitySwitches)
	assert.Equal(t, []*telemetry.Run{run}, runs.Completed())
}

func TestOrchestratorKeepsSessionOpenWhenConfigured(t *testing.T) {
	o, sess, _ := startOrchestrator(t, false)

	sess.console(t, probeLine(telemetry.EventFinished, nil, 10))

	<-o.Done()
	assert.Zero(t, sess.closed)
	assert.ErrorIs(t, o.Run().Err(), telemetry.ErrMissingTelemetryEvent)
}

func TestOrchestratorNavigateResult(t *testing.T) {
	_, sess, _ := startOrchestrator(t, true)
	nav := sess.sent[0]

	// None of these may panic; failures are logged.
	nav.fn(json.RawMessage(`{"frameId":"F1","loaderId":"L1"}`), nil)
	nav.fn(json.RawMessage(`{"frameId":"F1","errorText":"net::ERR_NAME_NOT_RESOLVED"}`), nil)
	nav.fn(nil, &cdp.ProtocolError{Code: -32000, Message: "Cannot navigate"})
	nav.fn(json.RawMessage(`[]`), nil)
}
