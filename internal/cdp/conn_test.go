package cdp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// newBrowserStub serves a websocket endpoint that pushes one console event on
// connect and answers every command with {"id":N,"result":{"echo":method}}.
func newBrowserStub(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			t.Errorf("UpgradeHTTP() error = %v", err)
			return
		}
		defer conn.Close()

		event := `{"method":"Console.messageAdded","params":{"message":{"text":"hello"}}}`
		if err := wsutil.WriteServerText(conn, []byte(event)); err != nil {
			return
		}
		for {
			data, err := wsutil.ReadClientText(conn)
			if err != nil {
				return
			}
			var cmd Command
			if err := json.Unmarshal(data, &cmd); err != nil {
				t.Errorf("server got malformed command %q", data)
				return
			}
			resp, _ := json.Marshal(map[string]any{
				"id":     cmd.ID,
				"result": map[string]string{"echo": cmd.Method},
			})
			if err := wsutil.WriteServerText(conn, resp); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSessionOverWebSocket(t *testing.T) {
	srv := newBrowserStub(t)
	wsURL := "ws://" + strings.TrimPrefix(srv.URL, "http://") + "/devtools/page/1"

	events := make(chan string, 1)
	results := make(chan string, 1)
	ready := make(chan struct{})

	s := NewSession(wsURL, Options{
		OnReady: func(s *Session) {
			s.On("Console.messageAdded", func(params json.RawMessage) {
				events <- string(params)
			})
			if _, err := s.Send("Runtime.enable", nil, func(result json.RawMessage, err error) {
				if err != nil {
					results <- "error: " + err.Error()
					return
				}
				results <- string(result)
			}); err != nil {
				t.Errorf("Send() error = %v", err)
			}
			close(ready)
		},
	})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer func() {
		_ = s.Close()
		<-s.Done()
	}()

	receive(t, ready)
	if got, want := receive(t, results), `{"echo":"Runtime.enable"}`; got != want {
		t.Fatalf("result = %s; want %s", got, want)
	}
	if got := receive(t, events); !strings.Contains(got, `"hello"`) {
		t.Fatalf("event params = %s", got)
	}
	if s.State() != StateConnected {
		t.Fatalf("State() = %s; want connected", s.State())
	}
}

func TestSessionDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	wsURL := "ws://" + strings.TrimPrefix(srv.URL, "http://") + "/devtools/page/1"
	srv.Close()

	s := NewSession(wsURL, Options{})
	if err := s.Connect(context.Background()); ErrorCode(err) != CodeConnectionFailed {
		t.Fatalf("Connect() error = %v; want %s", err, CodeConnectionFailed)
	}
}
