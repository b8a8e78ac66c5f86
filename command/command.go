package command

import (
	"context"
	"fmt"

	"github.com/luma/rudis/protocol"
)

type Command string

const (
	PING    Command = "PING"
	ECHO    Command = "ECHO"
	QUIT    Command = "QUIT"
	HELLO   Command = "HELLO"
	GET     Command = "GET"
	SET     Command = "SET"
	DEL     Command = "DEL"
	EXISTS  Command = "EXISTS"
	DBSIZE  Command = "DBSIZE"
	COMMAND Command = "COMMAND"
)

type handlerFunc func(ctx context.Context, args [][]byte) (protocol.Frame, error)

// spec describes how a command is called.
//
// Arity counts the command name as an argument. A positive arity is the
// exact number of arguments, a negative one is the minimum.
type spec struct {
	name    Command
	arity   int
	handler handlerFunc
}

func (s *spec) checkArity(argc int) bool {
	if s.arity > 0 {
		return argc == s.arity
	}

	return argc >= -s.arity
}

var (
	okReply   = protocol.SimpleString("OK")
	pongReply = protocol.SimpleString("PONG")
)

func errorReply(format string, args ...interface{}) protocol.SimpleError {
	return protocol.SimpleError(protocol.SanitizeLine(fmt.Sprintf(format, args...)))
}

func wrongArity(name Command) protocol.SimpleError {
	return errorReply("ERR wrong number of arguments for '%s' command", string(name))
}
