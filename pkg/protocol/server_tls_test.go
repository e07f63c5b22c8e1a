package protocol

import (
	"bufio"
	"crypto/tls"
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-kv/pkg/logging"
	"github.com/dd0wney/cluso-kv/pkg/lsm"
	tlspkg "github.com/dd0wney/cluso-kv/pkg/tls"
)

func TestServer_TLS(t *testing.T) {
	dir := t.TempDir()
	tlsCfg := tlspkg.DefaultConfig()
	tlsCfg.Enabled = true
	tlsCfg.CertFile = filepath.Join(dir, "server.crt")
	tlsCfg.KeyFile = filepath.Join(dir, "server.key")
	serverTLS, err := tlspkg.LoadTLSConfig(tlsCfg)
	require.NoError(t, err)

	engine, err := lsm.Open(lsm.DefaultOptions(dir+"/wal", dir+"/segments"), logging.NewNopLogger(), nil)
	require.NoError(t, err)

	srv := NewServer(engine, Config{Addr: "127.0.0.1:0", TLSConfig: serverTLS}, logging.NewNopLogger(), nil)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	require.Eventually(t, func() bool { return srv.Addr() != nil }, time.Second, 5*time.Millisecond)
	t.Cleanup(func() {
		srv.Close()
		engine.Close()
	})

	pem, err := os.ReadFile(tlsCfg.CertFile)
	require.NoError(t, err)
	roots := x509.NewCertPool()
	require.True(t, roots.AppendCertsFromPEM(pem))

	conn, err := tls.Dial("tcp", srv.Addr().String(), &tls.Config{RootCAs: roots, ServerName: "localhost"})
	require.NoError(t, err)
	defer conn.Close()
	rd := bufio.NewReader(conn)

	_, err = conn.Write([]byte(encodeArray("SET", "secure", "yes")))
	require.NoError(t, err)
	reply, err := rd.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "+OK\r\n", reply)

	_, err = conn.Write([]byte(encodeArray("GET", "secure")))
	require.NoError(t, err)
	reply, err = rd.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "+yes\r\n", reply)

	// A plain-text client never gets a reply.
	plain := dial(t, &testServer{srv: srv})
	plain.send(t, encodeArray("PING"))
	require.NoError(t, plain.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	line, _ := plain.rd.ReadString('\n')
	assert.NotEqual(t, "+PONG\r\n", line)
}
