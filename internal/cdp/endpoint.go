package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// NewTabURL is the target URL preferred when picking a session endpoint.
const NewTabURL = "chrome://newtab/"

// Endpoint is one debuggable target from the browser's /json listing.
type Endpoint struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// ListEndpoints fetches the debuggable targets via the HTTP /json endpoint.
func ListEndpoints(ctx context.Context, httpBase string) ([]Endpoint, error) {
	listCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	url := strings.TrimRight(httpBase, "/") + "/json"
	req, err := http.NewRequestWithContext(listCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, newError(CodeDiscoveryFailed, "build /json request", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, newError(CodeDiscoveryFailed, "request "+url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, newError(CodeDiscoveryFailed, fmt.Sprintf("/json: HTTP %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newError(CodeDiscoveryFailed, "read /json body", err)
	}

	var endpoints []Endpoint
	if err := json.Unmarshal(body, &endpoints); err != nil {
		return nil, newError(CodeDiscoveryFailed, "decode /json body", err)
	}
	return endpoints, nil
}

// SelectDebuggerURL returns the websocket URL of the new-tab target, falling
// back to the first listed target.
func SelectDebuggerURL(endpoints []Endpoint) (string, error) {
	if len(endpoints) == 0 {
		return "", newError(CodeEmptyEndpointList, "browser lists no debuggable targets", nil)
	}

	chosen := endpoints[0]
	found := false
	for _, ep := range endpoints {
		if ep.URL == NewTabURL {
			chosen = ep
			found = true
			break
		}
	}
	if !found {
		slog.Warn("No new tab target found, falling back to first target",
			"url", chosen.URL, "targets", len(endpoints))
	}

	if chosen.WebSocketDebuggerURL == "" {
		return "", newError(CodeNoDebuggerURL,
			fmt.Sprintf("target %q has no webSocketDebuggerUrl (already attached?)", chosen.URL), nil)
	}
	return chosen.WebSocketDebuggerURL, nil
}

// Discover lists the targets at httpBase and selects a session address.
func Discover(ctx context.Context, httpBase string) (string, error) {
	endpoints, err := ListEndpoints(ctx, httpBase)
	if err != nil {
		return "", err
	}
	slog.Debug("cdp targets listed", "count", len(endpoints), "http_base", httpBase)
	return SelectDebuggerURL(endpoints)
}
