package protocol

import (
	"errors"
	"strings"
	"sync"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/dd0wney/cluso-kv/pkg/lsm"
	"github.com/dd0wney/cluso-kv/pkg/logging"
	"github.com/dd0wney/cluso-kv/pkg/metrics"
)

type fakeEngine struct {
	mu     sync.Mutex
	data   map[string][]byte
	sets   int
	getErr error
	setErr error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{data: make(map[string][]byte)}
}

func (f *fakeEngine) Get(key []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	v, ok := f.data[string(key)]
	if !ok {
		return nil, lsm.ErrNotFound
	}
	return v, nil
}

func (f *fakeEngine) Set(key, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	f.sets++
	f.data[string(key)] = append([]byte(nil), value...)
	return nil
}

func argv(parts ...string) [][]byte {
	out := make([][]byte, len(parts))
	for i, p := range parts {
		out[i] = []byte(p)
	}
	return out
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name    string
		args    [][]byte
		want    string
		wantErr string
	}{
		{"get", argv("GET", "k"), CmdGet, ""},
		{"lowercase", argv("set", "k", "v"), CmdSet, ""},
		{"mixed case", argv("CoMmAnD", "DOCS"), CmdCommand, ""},
		{"empty", nil, "", "empty command"},
		{"unknown", argv("FLUSHALL"), "", "unknown command 'FLUSHALL'"},
		{"get without key", argv("GET"), "", "wrong number of arguments for 'get' command"},
		{"set without value", argv("SET", "k"), "", "wrong number of arguments for 'set' command"},
		{"set with extra", argv("SET", "k", "v", "EX"), "", "wrong number of arguments"},
		{"oversized key", argv("GET", strings.Repeat("k", 256)), "", "key:"},
		{"oversized value", argv("SET", "k", strings.Repeat("v", 256)), "", "value:"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := ParseCommand(tt.args)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.True(t, IsProtocolError(err))
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, cmd.Name)
			assert.Len(t, cmd.Args, len(tt.args)-1)
		})
	}
}

func TestDispatch_GetSet(t *testing.T) {
	engine := newFakeEngine()
	h := NewHandler(engine, "", logging.NewNopLogger(), nil)
	sess := &Session{ID: "test"}

	reply := h.Dispatch(sess, argv("GET", "foo"))
	assert.Equal(t, Reply{Kind: ReplyError, Text: "NOTFOUND key not found"}, reply)

	reply = h.Dispatch(sess, argv("SET", "foo", "bar"))
	assert.Equal(t, replyOK, reply)

	reply = h.Dispatch(sess, argv("get", "foo"))
	assert.Equal(t, Reply{Kind: ReplyStatus, Text: "bar"}, reply)
}

func TestDispatch_ValueWithNewlineIsBulk(t *testing.T) {
	engine := newFakeEngine()
	h := NewHandler(engine, "", nil, nil)
	sess := &Session{}

	require.Equal(t, replyOK, h.Dispatch(sess, argv("SET", "poem", "line one\r\nline two")))

	reply := h.Dispatch(sess, argv("GET", "poem"))
	assert.Equal(t, ReplyBulk, reply.Kind)
	assert.Equal(t, []byte("line one\r\nline two"), reply.Bulk)
}

func TestDispatch_MalformedCommandDoesNotMutate(t *testing.T) {
	engine := newFakeEngine()
	h := NewHandler(engine, "", nil, nil)
	sess := &Session{}

	for _, args := range [][][]byte{
		argv("PUT", "k", "v"),
		argv("SET", "k"),
		argv("SET", "k", strings.Repeat("v", 300)),
		argv("SET", "k", string([]byte{0xff})),
		nil,
	} {
		reply := h.Dispatch(sess, args)
		assert.Equal(t, ReplyError, reply.Kind)
		assert.True(t, strings.HasPrefix(reply.Text, "ERR "), reply.Text)
	}

	assert.Equal(t, 0, engine.sets)
	assert.Empty(t, engine.data)
}

func TestDispatch_StorageErrors(t *testing.T) {
	engine := newFakeEngine()
	engine.getErr = errors.New("disk on fire\nreally")
	engine.setErr = errors.New("no space left on device")
	h := NewHandler(engine, "", nil, nil)
	sess := &Session{}

	reply := h.Dispatch(sess, argv("GET", "k"))
	assert.Equal(t, "ERR storage: disk on fire really", reply.Text)

	reply = h.Dispatch(sess, argv("SET", "k", "v"))
	assert.Equal(t, ReplyError, reply.Kind)
	assert.Equal(t, "ERR storage: no space left on device", reply.Text)
}

func TestDispatch_PingCommandQuit(t *testing.T) {
	h := NewHandler(newFakeEngine(), "", nil, nil)
	sess := &Session{}

	assert.Equal(t, Reply{Kind: ReplyStatus, Text: "PONG"}, h.Dispatch(sess, argv("PING")))
	assert.Equal(t, Reply{Kind: ReplyBulk, Bulk: []byte("hello")}, h.Dispatch(sess, argv("ping", "hello")))
	assert.Equal(t, replyOK, h.Dispatch(sess, argv("COMMAND")))

	quit := h.Dispatch(sess, argv("QUIT"))
	assert.True(t, quit.Close)
	assert.Equal(t, "OK", quit.Text)
}

func TestDispatch_Auth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	reg := metrics.NewRegistry()
	engine := newFakeEngine()
	h := NewHandler(engine, string(hash), nil, reg)
	require.True(t, h.RequiresAuth())
	sess := &Session{}

	assert.Equal(t, replyNoAuth, h.Dispatch(sess, argv("SET", "k", "v")))
	assert.Equal(t, replyNoAuth, h.Dispatch(sess, argv("GET", "k")))
	assert.Equal(t, "PONG", h.Dispatch(sess, argv("PING")).Text)
	assert.Equal(t, 0, engine.sets)

	reply := h.Dispatch(sess, argv("AUTH", "guess"))
	assert.Equal(t, "WRONGPASS invalid password", reply.Text)
	assert.False(t, sess.Authed)

	var m dto.Metric
	require.NoError(t, reg.ProtocolAuthFailures.Write(&m))
	assert.Equal(t, 1.0, m.Counter.GetValue())

	assert.Equal(t, replyOK, h.Dispatch(sess, argv("AUTH", "s3cret")))
	assert.True(t, sess.Authed)
	assert.Equal(t, replyOK, h.Dispatch(sess, argv("SET", "k", "v")))
	assert.Equal(t, 1, engine.sets)
}

func TestDispatch_AuthWithoutPassword(t *testing.T) {
	h := NewHandler(newFakeEngine(), "", nil, nil)
	reply := h.Dispatch(&Session{}, argv("AUTH", "x"))
	assert.Equal(t, ReplyError, reply.Kind)
	assert.Contains(t, reply.Text, "no password is set")
}

func TestDispatch_Metrics(t *testing.T) {
	reg := metrics.NewRegistry()
	h := NewHandler(newFakeEngine(), "", nil, reg)
	sess := &Session{}

	h.Dispatch(sess, argv("SET", "a", "1"))
	h.Dispatch(sess, argv("GET", "a"))
	h.Dispatch(sess, argv("GET", "missing"))
	h.Dispatch(sess, argv("BOGUS"))
	h.Dispatch(sess, argv("GET"))

	counter := func(command, status string) float64 {
		var m dto.Metric
		require.NoError(t, reg.ProtocolCommandsTotal.WithLabelValues(command, status).Write(&m))
		return m.Counter.GetValue()
	}

	assert.Equal(t, 1.0, counter("set", metrics.StatusSuccess))
	assert.Equal(t, 1.0, counter("get", metrics.StatusSuccess))
	assert.Equal(t, 1.0, counter("get", metrics.StatusNotFound))
	assert.Equal(t, 1.0, counter("get", metrics.StatusError))
	assert.Equal(t, 1.0, counter("unknown", metrics.StatusError))
}
