package protocol

import (
	"strings"

	"github.com/dd0wney/cluso-kv/pkg/validation"
)

// Command names
const (
	CmdGet     = "GET"
	CmdSet     = "SET"
	CmdCommand = "COMMAND"
	CmdPing    = "PING"
	CmdAuth    = "AUTH"
	CmdQuit    = "QUIT"
)

// arity bounds include the command name; -1 is unbounded
type arity struct {
	min, max int
}

var commandTable = map[string]arity{
	CmdGet:     {2, 2},
	CmdSet:     {3, 3},
	CmdCommand: {1, -1},
	CmdPing:    {1, 2},
	CmdAuth:    {2, 2},
	CmdQuit:    {1, 1},
}

// Command is a decoded, validated request
type Command struct {
	Name string
	Args [][]byte // arguments after the name
}

// ParseCommand validates a decoded request array. Names are matched case
// insensitively. Every failure is a *ProtocolError.
func ParseCommand(args [][]byte) (Command, error) {
	if len(args) == 0 {
		return Command{}, newProtocolError("", "empty command")
	}

	name := strings.ToUpper(string(args[0]))
	bounds, ok := commandTable[name]
	if !ok {
		return Command{}, newProtocolError(name, "unknown command '%s'", truncate(string(args[0]), 64))
	}
	if err := validation.ValidateArity(name, len(args), bounds.min, bounds.max); err != nil {
		return Command{}, newProtocolError(name, "%s", err.Error())
	}

	cmd := Command{Name: name, Args: args[1:]}
	switch name {
	case CmdGet:
		if err := validation.ValidateKey(cmd.Args[0]); err != nil {
			return Command{}, newProtocolError(name, "%s", err.Error())
		}
	case CmdSet:
		if err := validation.ValidateKey(cmd.Args[0]); err != nil {
			return Command{}, newProtocolError(name, "%s", err.Error())
		}
		if err := validation.ValidateValue(cmd.Args[1]); err != nil {
			return Command{}, newProtocolError(name, "%s", err.Error())
		}
	}
	return cmd, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
