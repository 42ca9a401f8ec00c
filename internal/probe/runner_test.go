package probe

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/activeprobe/internal/cdp"
	"github.com/dgnsrekt/activeprobe/internal/telemetry"
)

// fakeBrowser serves /json and one debugger websocket. After Runtime.enable
// it plays the page side of the probe: it reports documentReady, waits for
// the player script and then emits script.
type fakeBrowser struct {
	t      *testing.T
	srv    *httptest.Server
	script []string
	// hangup drops the connection instead of sending finished.
	hangup bool
}

func newFakeBrowser(t *testing.T, script []string) *fakeBrowser {
	t.Helper()
	b := &fakeBrowser{t: t, script: script}
	mux := http.NewServeMux()
	mux.HandleFunc("/json", b.serveList)
	mux.HandleFunc("/devtools/page/1", b.serveSocket)
	b.srv = httptest.NewServer(mux)
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBrowser) serveList(w http.ResponseWriter, _ *http.Request) {
	wsURL := "ws://" + strings.TrimPrefix(b.srv.URL, "http://") + "/devtools/page/1"
	_ = json.NewEncoder(w).Encode([]cdp.Endpoint{
		{ID: "0", Type: "page", URL: "https://example.com/"},
		{ID: "1", Type: "page", URL: cdp.NewTabURL, WebSocketDebuggerURL: wsURL},
	})
}

func (b *fakeBrowser) serveSocket(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		b.t.Errorf("UpgradeHTTP() error = %v", err)
		return
	}
	defer conn.Close()

	console := func(text string) error {
		frame, _ := json.Marshal(map[string]any{
			"method": methodConsoleMessageAdded,
			"params": map[string]any{"message": map[string]string{"level": "log", "text": text}},
		})
		return wsutil.WriteServerText(conn, frame)
	}

	for {
		data, err := wsutil.ReadClientText(conn)
		if err != nil {
			return
		}
		var cmd cdp.Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			b.t.Errorf("malformed command %q", data)
			return
		}
		resp, _ := json.Marshal(map[string]any{"id": cmd.ID, "result": map[string]any{}})
		if err := wsutil.WriteServerText(conn, resp); err != nil {
			return
		}

		switch cmd.Method {
		case "Runtime.enable":
			if err := console("unrelated page noise"); err != nil {
				return
			}
			if err := console(probeLine(telemetry.EventDocumentReady, nil, 1)); err != nil {
				return
			}
		case "Runtime.evaluate":
			for _, line := range b.script {
				if err := console(line); err != nil {
					return
				}
			}
			if b.hangup {
				return
			}
		}
	}
}

func (b *fakeBrowser) runner(runs *telemetry.RunSet, runTimeout time.Duration) *Runner {
	return NewRunner(RunnerOptions{
		DebugHTTP:      b.srv.URL,
		CommandTimeout: time.Second,
		RunTimeout:     runTimeout,
		CloseOnFinish:  true,
	}, runs)
}

func TestRunnerCompletesRun(t *testing.T) {
	b := newFakeBrowser(t, []string{
		probeLine(telemetry.EventPageLoaded, nil, 100),
		probeLine(telemetry.EventPlayerReady, nil, 150),
		probeLine(telemetry.EventPlayerStateChange, "playing", 220),
		probeLine(telemetry.EventFinished, nil, 300),
	})
	runs := telemetry.NewRunSet()

	var sessions []*cdp.Session
	r := b.runner(runs, 5*time.Second)
	r.opts.OnSession = func(s *cdp.Session) { sessions = append(sessions, s) }

	run, err := r.Run(context.Background(), TestCase{Name: "smoke", Technology: TechnologyHTML5, PageURL: "file:///tmp/html5.html?1"})
	require.NoError(t, err)
	require.NotNil(t, run)

	m, ok := run.Metrics()
	require.True(t, ok)
	assert.InDelta(t, 50, *m.PlayerLoadTime, 1e-9)
	assert.InDelta(t, 70, *m.StartupDelay, 1e-9)
	assert.Equal(t, "smoke", run.Meta.Name)
	assert.Equal(t, []*telemetry.Run{run}, runs.Completed())

	require.Len(t, sessions, 1)
	assert.Equal(t, cdp.StateDisconnected, sessions[0].State())
}

func TestRunnerReportsMissingEvents(t *testing.T) {
	b := newFakeBrowser(t, []string{
		probeLine(telemetry.EventPageLoaded, nil, 100),
		probeLine(telemetry.EventFinished, nil, 300),
	})

	run, err := b.runner(telemetry.NewRunSet(), 5*time.Second).Run(context.Background(), TestCase{Technology: TechnologyHTML5})
	require.ErrorIs(t, err, telemetry.ErrMissingTelemetryEvent)
	require.NotNil(t, run)
	assert.True(t, run.Finished())
}

func TestRunnerDisconnectBeforeFinish(t *testing.T) {
	b := newFakeBrowser(t, []string{
		probeLine(telemetry.EventPageLoaded, nil, 100),
	})
	b.hangup = true
	runs := telemetry.NewRunSet()

	run, err := b.runner(runs, 5*time.Second).Run(context.Background(), TestCase{Technology: TechnologyHTML5})
	require.ErrorIs(t, err, ErrDisconnected)
	require.NotNil(t, run)
	assert.True(t, run.Finished(), "incomplete runs are finalized")
	assert.Len(t, runs.Completed(), 1)
}

func TestRunnerTimeout(t *testing.T) {
	b := newFakeBrowser(t, nil)

	run, err := b.runner(telemetry.NewRunSet(), 100*time.Millisecond).Run(context.Background(), TestCase{Technology: TechnologyHTML5})
	require.ErrorIs(t, err, ErrRunTimeout)
	require.NotNil(t, run)
	assert.True(t, run.Finished())
}

func TestRunnerDiscoveryFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("[]"))
	}))
	defer srv.Close()

	r := NewRunner(RunnerOptions{DebugHTTP: srv.URL}, telemetry.NewRunSet())
	run, err := r.Run(context.Background(), TestCase{})
	assert.Nil(t, run)
	assert.ErrorIs(t, err, cdp.ErrEmptyEndpointList)
}
