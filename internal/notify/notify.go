// Package notify posts a one-line summary of every finished run to an
// ntfy-style HTTP endpoint.
package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dgnsrekt/activeprobe/internal/telemetry"
)

// Send posts message as plain text to endpoint.
func Send(ctx context.Context, client *http.Client, endpoint, message string) error {
	c := client
	if c == nil {
		c = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(message))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy notification failed: status=%d", resp.StatusCode)
	}
	return nil
}

// Notifier sends a summary when a run is finalized. It implements
// telemetry.Observer; sends happen off the caller's goroutine.
type Notifier struct {
	endpoint string
	client   *http.Client
	timeout  time.Duration
	wg       sync.WaitGroup
}

// NewNotifier posts to endpoint with client, or http.DefaultClient when nil.
func NewNotifier(endpoint string, client *http.Client) *Notifier {
	return &Notifier{endpoint: endpoint, client: client, timeout: 10 * time.Second}
}

func (n *Notifier) EventRecorded(*telemetry.Run, telemetry.ProbeEvent) {}

func (n *Notifier) RunFinalized(run *telemetry.Run) {
	msg := Summary(run.Report(false))
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()
		if err := Send(ctx, n.client, n.endpoint, msg); err != nil {
			slog.Warn("Run notification failed", "run_id", run.ID, "error", err)
		}
	}()
}

// Wait blocks until pending notifications are sent.
func (n *Notifier) Wait() { n.wg.Wait() }

// Summary renders a report as one line.
func Summary(rep telemetry.Report) string {
	name := rep.Meta.Name
	if name == "" {
		name = rep.ID
	}
	var b strings.Builder
	fmt.Fprintf(&b, "activeprobe %s (%s)", name, rep.Meta.Technology)
	m := rep.Metrics
	if m == nil {
		b.WriteString(": no metrics")
	} else {
		b.WriteString(": startup delay ")
		if m.StartupDelay != nil {
			b.WriteString(strconv.FormatFloat(*m.StartupDelay, 'f', -1, 64) + " ms")
		} else {
			b.WriteString("n/a")
		}
		fmt.Fprintf(&b, ", %d stalls (%s ms), %d quality switches",
			m.StallingCount(), strconv.FormatFloat(m.TotalStallingDuration, 'f', -1, 64), len(m.QualitySwitches))
	}
	if rep.Error != "" {
		b.WriteString(", error: " + rep.Error)
	}
	return b.String()
}
