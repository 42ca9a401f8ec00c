//go:build integration

package integration

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dgnsrekt/activeprobe/internal/api"
	"github.com/dgnsrekt/activeprobe/internal/metrics"
	"github.com/dgnsrekt/activeprobe/internal/probe"
	"github.com/dgnsrekt/activeprobe/internal/relay"
	"github.com/dgnsrekt/activeprobe/internal/telemetry"
)

func probeOptions() probe.RunnerOptions {
	return probe.RunnerOptions{CloseOnFinish: true}
}

func TestStatusAPIAfterRun(t *testing.T) {
	collector := metrics.NewCollector()
	broker := relay.NewBroker()
	defer broker.CloseAll()

	runs := telemetry.NewRunSet(collector, relay.NewPublisher(broker))
	tracker := api.NewTracker(runs)
	srv := httptest.NewServer(api.NewServer(tracker, api.Options{Broker: broker, Metrics: collector.Handler()}))
	defer srv.Close()

	opts := probeOptions()
	opts.Observer = collector
	opts.OnSession = tracker.SetSession
	run := env.runProbe(t, runs, opts)

	resp, err := http.Get(srv.URL + "/api/v1/runs/" + run.ID + "?events=true")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET run status = %d; want 200", resp.StatusCode)
	}
	var rep telemetry.Report
	if err := json.NewDecoder(resp.Body).Decode(&rep); err != nil {
		t.Fatal(err)
	}
	if !rep.Finished || rep.Metrics == nil || len(rep.Events) == 0 {
		t.Fatalf("report = %+v", rep)
	}

	mresp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer mresp.Body.Close()
	body, _ := io.ReadAll(mresp.Body)
	for _, want := range []string{"activeprobe_runs_completed_total", "activeprobe_cdp_commands_sent_total"} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("/metrics missing %s", want)
		}
	}
}
