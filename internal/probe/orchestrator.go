package probe

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"

	"github.com/dgnsrekt/activeprobe/internal/cdp"
	"github.com/dgnsrekt/activeprobe/internal/telemetry"
)

// The Console domain is deprecated upstream and not generated into cdproto,
// but it is still the channel the in-page probe writes to.
const (
	methodConsoleEnable       = "Console.enable"
	methodConsoleMessageAdded = "Console.messageAdded"
)

// Session is the part of a cdp.Session the orchestrator drives.
type Session interface {
	Send(method string, params any, fn cdp.ResultHandler) (int64, error)
	On(method string, fn cdp.EventHandler)
	Close() error
}

// Settings describe one playback test.
type Settings struct {
	Name          string
	PageURL       string
	VideoURL      string
	Technology    string
	Prefix        string
	CloseOnFinish bool
}

type consoleMessageAdded struct {
	Message struct {
		Source string `json:"source"`
		Level  string `json:"level"`
		Text   string `json:"text"`
	} `json:"message"`
}

type evaluateResult struct {
	ExceptionDetails *struct {
		Text      string `json:"text"`
		Exception *struct {
			Description string `json:"description"`
		} `json:"exception"`
	} `json:"exceptionDetails"`
}

// Orchestrator runs one test over a connected session. Start and every
// handler it installs run on the session's reactor goroutine.
type Orchestrator struct {
	session  Session
	runs     *telemetry.RunSet
	settings Settings

	run      atomic.Pointer[telemetry.Run]
	done     chan struct{}
	doneOnce sync.Once
}

// NewOrchestrator prepares a test. Runs it starts are registered in runs.
func NewOrchestrator(session Session, runs *telemetry.RunSet, settings Settings) *Orchestrator {
	if settings.Prefix == "" {
		settings.Prefix = DefaultPrefix
	}
	return &Orchestrator{
		session:  session,
		runs:     runs,
		settings: settings,
		done:     make(chan struct{}),
	}
}

// Start loads the page, enables the console and runtime domains, opens a new
// active run and subscribes to console messages.
func (o *Orchestrator) Start() error {
	if _, err := o.session.Send(page.CommandNavigate, page.Navigate(o.settings.PageURL), o.onNavigated); err != nil {
		return fmt.Errorf("navigate to %s: %w", o.settings.PageURL, err)
	}
	if _, err := o.session.Send(methodConsoleEnable, nil, logFailure(methodConsoleEnable)); err != nil {
		return fmt.Errorf("enable console: %w", err)
	}
	if _, err := o.session.Send(runtime.CommandEnable, runtime.Enable(), logFailure(runtime.CommandEnable)); err != nil {
		return fmt.Errorf("enable runtime: %w", err)
	}

	run := o.runs.NewRun(telemetry.Meta{
		Name:       o.settings.Name,
		Technology: o.settings.Technology,
		VideoURL:   o.settings.VideoURL,
		PageURL:    o.settings.PageURL,
	})
	o.run.Store(run)
	slog.Info("Probe run started", "run_id", run.ID, "page_url", o.settings.PageURL, "technology", o.settings.Technology)

	o.session.On(methodConsoleMessageAdded, cdp.HandleEvent(o.onConsoleMessage))
	return nil
}

// Run returns the run opened by Start, or nil before Start.
func (o *Orchestrator) Run() *telemetry.Run { return o.run.Load() }

// Done is closed once the active run has been finalized.
func (o *Orchestrator) Done() <-chan struct{} { return o.done }

func (o *Orchestrator) onNavigated(result json.RawMessage, err error) {
	if err != nil {
		slog.Error("Page navigation failed", "page_url", o.settings.PageURL, "error", err)
		return
	}
	var ret page.NavigateReturns
	if err := json.Unmarshal(result, &ret); err != nil {
		slog.Warn("Could not decode navigation result", "error", err)
		return
	}
	if ret.ErrorText != "" {
		slog.Error("Page navigation failed", "page_url", o.settings.PageURL, "error", ret.ErrorText)
	}
}

func (o *Orchestrator) onConsoleMessage(ev consoleMessageAdded) {
	msg, matched, err := ParseLine(ev.Message.Text, o.settings.Prefix)
	if !matched {
		return
	}
	if err != nil {
		slog.Error("Could not decode the probe message", "text", ev.Message.Text, "error", err)
		return
	}
	slog.Debug("Received probe message", "event", msg.Event, "timestamp", msg.Timestamp, "data", msg.Data)

	if msg.Event == telemetry.EventDocumentReady {
		o.initializePlayer()
		return
	}

	run := o.run.Load()
	if run == nil {
		return
	}
	// Finalize logs its own metric errors.
	_ = run.Extract(msg)
	if run.Finished() {
		o.finish(run)
	}
}

func (o *Orchestrator) initializePlayer() {
	expr := PlayerScript(o.settings.VideoURL, o.settings.Technology)
	_, err := o.session.Send(runtime.CommandEvaluate, runtime.Evaluate(expr), func(result json.RawMessage, err error) {
		if err != nil {
			slog.Error("Player initialization failed", "technology", o.settings.Technology, "error", err)
			return
		}
		var res evaluateResult
		if err := json.Unmarshal(result, &res); err != nil {
			slog.Warn("Could not decode evaluation result", "error", err)
			return
		}
		if d := res.ExceptionDetails; d != nil {
			desc := d.Text
			if d.Exception != nil && d.Exception.Description != "" {
				desc = d.Exception.Description
			}
			slog.Error("Player initialization script threw", "technology", o.settings.Technology, "exception", desc)
		}
	})
	if err != nil {
		slog.Error("Could not send player initialization", "error", err)
		return
	}
	slog.Info("Initializing player", "technology", o.settings.Technology, "video_url", o.settings.VideoURL)
}

func (o *Orchestrator) finish(run *telemetry.Run) {
	o.doneOnce.Do(func() {
		slog.Info("Probe run finished", "run_id", run.ID)
		close(o.done)
		if o.settings.CloseOnFinish {
			if err := o.session.Close(); err != nil {
				slog.Warn("Could not close session", "error", err)
			}
		}
	})
}

func logFailure(method string) cdp.ResultHandler {
	return func(_ json.RawMessage, err error) {
		if err != nil {
			slog.Error("Command failed", "method", method, "error", err)
		}
	}
}
