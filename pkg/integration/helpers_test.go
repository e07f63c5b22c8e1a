package integration

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-kv/pkg/logging"
	"github.com/dd0wney/cluso-kv/pkg/lsm"
	"github.com/dd0wney/cluso-kv/pkg/metrics"
	"github.com/dd0wney/cluso-kv/pkg/protocol"
	"github.com/dd0wney/cluso-kv/pkg/server"
)

// node is one running server: engine, protocol listener and admin router
type node struct {
	dir     string
	opts    lsm.Options
	engine  *lsm.Engine
	proto   *protocol.Server
	admin   *server.Admin
	metrics *metrics.Registry
}

func testOptions(dir string) lsm.Options {
	opts := lsm.DefaultOptions(filepath.Join(dir, "wal"), filepath.Join(dir, "segments"))
	opts.FlushThreshold = 16
	opts.CompactionFileLimit = 2
	opts.CompactionLevels = 3
	return opts
}

func startNode(t *testing.T, opts lsm.Options, cfg protocol.Config) *node {
	t.Helper()

	reg := metrics.NewRegistry()
	engine, err := lsm.Open(opts, logging.NewNopLogger(), reg)
	require.NoError(t, err)

	n := &node{
		opts:    opts,
		engine:  engine,
		proto:   protocol.NewServer(engine, cfg, logging.NewNopLogger(), reg),
		admin:   server.NewAdmin(engine, reg, opts.CompactionFileLimit, logging.NewNopLogger()),
		metrics: reg,
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go n.proto.Serve(ln)
	require.Eventually(t, func() bool { return n.proto.Addr() != nil }, time.Second, 5*time.Millisecond)

	t.Cleanup(n.stop)
	return n
}

// stop closes the listener before the engine, as the binary does
func (n *node) stop() {
	n.proto.Close()
	n.engine.Close()
}

type client struct {
	conn net.Conn
	rd   *bufio.Reader
}

func (n *node) dial(t *testing.T) *client {
	t.Helper()
	conn, err := net.Dial("tcp", n.proto.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &client{conn: conn, rd: bufio.NewReader(conn)}
}

// do sends one command and returns the reply line without its CRLF. Bulk
// replies are collapsed to their payload.
func (c *client) do(args ...string) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "*%d\r\n", len(args))
	for _, a := range args {
		fmt.Fprintf(&b, "$%d\r\n%s\r\n", len(a), a)
	}
	if err := c.conn.SetDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return "", err
	}
	if _, err := c.conn.Write([]byte(b.String())); err != nil {
		return "", err
	}

	line, err := c.rd.ReadString('\n')
	if err != nil {
		return "", err
	}
	line = strings.TrimSuffix(line, "\r\n")
	if !strings.HasPrefix(line, "$") {
		return line, nil
	}

	var size int
	if _, err := fmt.Sscanf(line, "$%d", &size); err != nil {
		return "", err
	}
	buf := make([]byte, size+2)
	if _, err := io.ReadFull(c.rd, buf); err != nil {
		return "", err
	}
	return "+" + string(buf[:size]), nil
}

func (c *client) mustDo(t *testing.T, args ...string) string {
	t.Helper()
	reply, err := c.do(args...)
	require.NoError(t, err)
	return reply
}
