package protocol

import (
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/dd0wney/cluso-kv/pkg/lsm"
	"github.com/dd0wney/cluso-kv/pkg/logging"
	"github.com/dd0wney/cluso-kv/pkg/metrics"
)

// Engine is the storage the protocol layer drives
type Engine interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
}

// ReplyKind selects the RESP type a reply is written as
type ReplyKind int

const (
	ReplyStatus ReplyKind = iota // +simple string
	ReplyBulk                    // $bulk string
	ReplyError                   // -error
)

// Reply is the outcome of one command
type Reply struct {
	Kind  ReplyKind
	Text  string // status or error text, without the leading marker
	Bulk  []byte
	Close bool // close the connection after writing
}

var (
	replyOK     = Reply{Kind: ReplyStatus, Text: "OK"}
	replyNoAuth = Reply{Kind: ReplyError, Text: "NOAUTH Authentication required."}
)

// errorReply renders err the way clients see it
func errorReply(err error) Reply {
	var pe *ProtocolError
	switch {
	case errors.As(err, &pe):
		return Reply{Kind: ReplyError, Text: "ERR " + pe.Msg}
	case lsm.IsNotFound(err):
		return Reply{Kind: ReplyError, Text: "NOTFOUND key not found"}
	default:
		return Reply{Kind: ReplyError, Text: "ERR storage: " + singleLine(err.Error())}
	}
}

// valueReply sends values as simple strings unless they cannot be framed as
// one.
func valueReply(v []byte) Reply {
	for _, b := range v {
		if b == '\r' || b == '\n' {
			return Reply{Kind: ReplyBulk, Bulk: v}
		}
	}
	return Reply{Kind: ReplyStatus, Text: string(v)}
}

func singleLine(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}

// Session is per-connection state
type Session struct {
	ID     string
	Authed bool
}

// Handler executes commands against an engine
type Handler struct {
	engine   Engine
	passHash []byte
	logger   logging.Logger
	metrics  *metrics.Registry
}

// NewHandler creates a handler. An empty passHash disables AUTH.
func NewHandler(engine Engine, passHash string, logger logging.Logger, reg *metrics.Registry) *Handler {
	h := &Handler{
		engine:  engine,
		logger:  logging.OrNop(logger),
		metrics: reg,
	}
	if passHash != "" {
		h.passHash = []byte(passHash)
	}
	return h
}

// RequiresAuth reports whether connections must AUTH first
func (h *Handler) RequiresAuth() bool {
	return h.passHash != nil
}

// Dispatch parses and executes one request. It never returns a Go error;
// failures become error replies.
func (h *Handler) Dispatch(sess *Session, args [][]byte) Reply {
	start := time.Now()

	cmd, err := ParseCommand(args)
	if err != nil {
		label := "unknown"
		if pe, ok := err.(*ProtocolError); ok && pe.Command != "" {
			if _, known := commandTable[pe.Command]; known {
				label = strings.ToLower(pe.Command)
			}
		}
		h.metrics.RecordCommand(label, metrics.StatusError, time.Since(start))
		h.logger.Debug("rejected command", logging.ConnID(sess.ID), logging.Error(err))
		return errorReply(err)
	}

	reply, status := h.execute(sess, cmd)
	h.metrics.RecordCommand(strings.ToLower(cmd.Name), status, time.Since(start))
	return reply
}

func (h *Handler) execute(sess *Session, cmd Command) (Reply, string) {
	if h.RequiresAuth() && !sess.Authed {
		switch cmd.Name {
		case CmdAuth, CmdPing, CmdCommand, CmdQuit:
		default:
			return replyNoAuth, metrics.StatusError
		}
	}

	switch cmd.Name {
	case CmdGet:
		value, err := h.engine.Get(cmd.Args[0])
		if err != nil {
			if lsm.IsNotFound(err) {
				return errorReply(err), metrics.StatusNotFound
			}
			h.logger.Error("get failed",
				logging.ConnID(sess.ID),
				logging.Key(cmd.Args[0]),
				logging.Error(err))
			return errorReply(err), metrics.StatusError
		}
		return valueReply(value), metrics.StatusSuccess

	case CmdSet:
		if err := h.engine.Set(cmd.Args[0], cmd.Args[1]); err != nil {
			h.logger.Error("set failed",
				logging.ConnID(sess.ID),
				logging.Key(cmd.Args[0]),
				logging.Error(err))
			return errorReply(err), metrics.StatusError
		}
		return replyOK, metrics.StatusSuccess

	case CmdCommand:
		return replyOK, metrics.StatusSuccess

	case CmdPing:
		if len(cmd.Args) == 1 {
			return Reply{Kind: ReplyBulk, Bulk: cmd.Args[0]}, metrics.StatusSuccess
		}
		return Reply{Kind: ReplyStatus, Text: "PONG"}, metrics.StatusSuccess

	case CmdAuth:
		return h.auth(sess, cmd.Args[0])

	case CmdQuit:
		return Reply{Kind: ReplyStatus, Text: "OK", Close: true}, metrics.StatusSuccess
	}

	// ParseCommand only admits names from commandTable.
	return errorReply(newProtocolError(cmd.Name, "unknown command '%s'", cmd.Name)), metrics.StatusError
}

func (h *Handler) auth(sess *Session, password []byte) (Reply, string) {
	if !h.RequiresAuth() {
		return Reply{Kind: ReplyError, Text: "ERR Client sent AUTH, but no password is set"}, metrics.StatusError
	}
	if err := bcrypt.CompareHashAndPassword(h.passHash, password); err != nil {
		sess.Authed = false
		h.metrics.RecordAuthFailure()
		h.logger.Warn("authentication failed", logging.ConnID(sess.ID))
		return Reply{Kind: ReplyError, Text: "WRONGPASS invalid password"}, metrics.StatusError
	}
	sess.Authed = true
	return replyOK, metrics.StatusSuccess
}
