package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgnsrekt/activeprobe/internal/cdp"
	"github.com/dgnsrekt/activeprobe/internal/telemetry"
)

var (
	// ErrDisconnected means the browser went away before the probe finished.
	ErrDisconnected = errors.New("browser disconnected before the run finished")
	// ErrRunTimeout means the probe did not report finished in time.
	ErrRunTimeout = errors.New("run timed out before the probe finished")
)

// TestCase is one page and video to probe.
type TestCase struct {
	Name       string
	Technology string
	VideoURL   string
	PageURL    string
}

// RunnerOptions configure how each test reaches the browser.
type RunnerOptions struct {
	// DebugHTTP is the browser's debugging base URL, e.g. http://127.0.0.1:9222.
	DebugHTTP      string
	Prefix         string
	CommandTimeout time.Duration
	RunTimeout     time.Duration
	CloseOnFinish  bool

	Dial     cdp.DialFunc
	Tracer   cdp.Tracer
	Observer cdp.Observer

	// OnSession is called with each new session before it connects.
	OnSession func(*cdp.Session)
}

// Runner executes test cases one at a time, each on a fresh session.
type Runner struct {
	opts RunnerOptions
	runs *telemetry.RunSet
}

// NewRunner returns a runner that records runs in runs.
func NewRunner(opts RunnerOptions, runs *telemetry.RunSet) *Runner {
	return &Runner{opts: opts, runs: runs}
}

// Run discovers a target, connects and probes tc until the page reports
// finished. Discovery and connection failures return a nil run. Any other
// failure still returns the run with whatever it recorded.
func (r *Runner) Run(ctx context.Context, tc TestCase) (*telemetry.Run, error) {
	wsURL, err := cdp.Discover(ctx, r.opts.DebugHTTP)
	if err != nil {
		return nil, err
	}

	startErr := make(chan error, 1)
	var orch *Orchestrator
	sess := cdp.NewSession(wsURL, cdp.Options{
		CommandTimeout: r.opts.CommandTimeout,
		Dial:           r.opts.Dial,
		Tracer:         r.opts.Tracer,
		Observer:       r.opts.Observer,
		OnReady: func(*cdp.Session) {
			if err := orch.Start(); err != nil {
				startErr <- err
			}
		},
	})
	orch = NewOrchestrator(sess, r.runs, Settings{
		Name:          tc.Name,
		PageURL:       tc.PageURL,
		VideoURL:      tc.VideoURL,
		Technology:    tc.Technology,
		Prefix:        r.opts.Prefix,
		CloseOnFinish: r.opts.CloseOnFinish,
	})
	if r.opts.OnSession != nil {
		r.opts.OnSession(sess)
	}

	if err := sess.Connect(ctx); err != nil {
		return nil, err
	}
	defer func() {
		_ = sess.Close()
		<-sess.Done()
	}()

	var timeout <-chan time.Time
	if r.opts.RunTimeout > 0 {
		t := time.NewTimer(r.opts.RunTimeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case <-orch.Done():
		return r.finished(orch)
	case err := <-startErr:
		return r.abort(sess, orch, fmt.Errorf("start probe: %w", err))
	case <-sess.Done():
		select {
		case <-orch.Done():
			return r.finished(orch)
		default:
		}
		cause := ErrDisconnected
		if readErr := sess.Err(); readErr != nil {
			cause = fmt.Errorf("%w: %v", ErrDisconnected, readErr)
		}
		return r.abort(sess, orch, cause)
	case <-timeout:
		return r.abort(sess, orch, fmt.Errorf("%w after %s", ErrRunTimeout, r.opts.RunTimeout))
	case <-ctx.Done():
		return r.abort(sess, orch, ctx.Err())
	}
}

func (r *Runner) finished(orch *Orchestrator) (*telemetry.Run, error) {
	run := orch.Run()
	if err := run.Err(); err != nil {
		return run, fmt.Errorf("run %s: %w", run.ID, err)
	}
	return run, nil
}

// abort stops the session and finalizes whatever the run recorded so far.
func (r *Runner) abort(sess *cdp.Session, orch *Orchestrator, cause error) (*telemetry.Run, error) {
	_ = sess.Close()
	<-sess.Done()

	run := orch.Run()
	if run == nil {
		return nil, cause
	}
	slog.Warn("Finalizing incomplete run", "run_id", run.ID, "reason", cause)
	_, _ = run.Finalize()
	return run, cause
}
