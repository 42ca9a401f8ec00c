package cdp

import (
	"context"
	"io"
	"net"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Conn is a duplex text-frame connection to a debugger endpoint.
type Conn interface {
	ReadText() ([]byte, error)
	WriteText(data []byte) error
	Close() error
}

// DialFunc opens a Conn to a websocket debugger URL.
type DialFunc func(ctx context.Context, url string) (Conn, error)

// DialWebSocket is the default DialFunc, backed by gobwas/ws.
func DialWebSocket(ctx context.Context, url string) (Conn, error) {
	conn, br, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, err
	}
	c := &wsConn{conn: conn}
	var r io.Reader = conn
	if br != nil {
		// Frames that arrived together with the handshake response are
		// buffered in br and must be read first.
		r = io.MultiReader(br, conn)
	}
	c.rw = struct {
		io.Reader
		io.Writer
	}{r, lockedWriter{c}}
	return c, nil
}

type wsConn struct {
	conn net.Conn
	rw   io.ReadWriter

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// lockedWriter serializes control-frame replies written by the reader with
// regular command writes.
type lockedWriter struct{ c *wsConn }

func (w lockedWriter) Write(p []byte) (int, error) {
	w.c.writeMu.Lock()
	defer w.c.writeMu.Unlock()
	return w.c.conn.Write(p)
}

func (c *wsConn) ReadText() ([]byte, error) {
	return wsutil.ReadServerText(c.rw)
}

func (c *wsConn) WriteText(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteClientText(c.conn, data)
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		body := ws.NewCloseFrameBody(ws.StatusNormalClosure, "")
		_ = ws.WriteFrame(c.conn, ws.MaskFrameInPlace(ws.NewCloseFrame(body)))
		c.writeMu.Unlock()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
