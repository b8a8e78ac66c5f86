package command

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/luma/rudis/internal/meta"
	"github.com/luma/rudis/protocol"
	"github.com/luma/rudis/storage"
	"github.com/luma/rudis/transport"
)

// Executor runs commands against a store. It is safe for concurrent use by
// every connection of a server.
type Executor struct {
	store    storage.Store
	commands map[Command]*spec
	log      *zap.Logger
}

func NewExecutor(store storage.Store, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}

	e := &Executor{
		store: store,
		log:   log,
	}

	e.commands = map[Command]*spec{}
	for _, s := range []*spec{
		{name: PING, arity: -1, handler: e.ping},
		{name: ECHO, arity: 2, handler: e.echo},
		{name: QUIT, arity: -1, handler: e.quit},
		{name: HELLO, arity: -1, handler: e.hello},
		{name: GET, arity: 2, handler: e.get},
		{name: SET, arity: -3, handler: e.set},
		{name: DEL, arity: -2, handler: e.del},
		{name: EXISTS, arity: -2, handler: e.exists},
		{name: DBSIZE, arity: 1, handler: e.dbsize},
		{name: COMMAND, arity: -1, handler: e.command},
	} {
		e.commands[s.name] = s
	}

	return e
}

// Handle runs the command held in req, an array whose elements are bulk or
// simple strings, the first being the command name.
func (e *Executor) Handle(ctx context.Context, req protocol.Frame) (protocol.Frame, error) {
	args, ok := commandArgs(req)
	if !ok {
		return protocol.SimpleError("ERR Protocol error: expected array of bulk strings"), nil
	}

	name := Command(strings.ToUpper(string(args[0])))

	s, ok := e.commands[name]
	if !ok {
		e.log.Debug("Unknown command", zap.ByteString("command", args[0]))
		return errorReply("ERR unknown command '%.128s'", args[0]), nil
	}

	if !s.checkArity(len(args)) {
		return wrongArity(s.name), nil
	}

	return s.handler(ctx, args)
}

func commandArgs(req protocol.Frame) ([][]byte, bool) {
	arr, ok := req.(protocol.Array)
	if !ok || len(arr) == 0 {
		return nil, false
	}

	args := make([][]byte, len(arr))
	for i, f := range arr {
		switch v := f.(type) {
		case protocol.BulkString:
			args[i] = v
		case protocol.SimpleString:
			args[i] = []byte(v)
		default:
			return nil, false
		}
	}

	return args, true
}

func (e *Executor) ping(ctx context.Context, args [][]byte) (protocol.Frame, error) {
	switch len(args) {
	case 1:
		return pongReply, nil
	case 2:
		return protocol.BulkString(args[1]), nil
	default:
		return wrongArity(PING), nil
	}
}

func (e *Executor) echo(ctx context.Context, args [][]byte) (protocol.Frame, error) {
	return protocol.BulkString(args[1]), nil
}

func (e *Executor) quit(ctx context.Context, args [][]byte) (protocol.Frame, error) {
	return okReply, transport.ErrCloseAfterReply
}

// hello reports the server and the requested protocol version. Replies do
// not otherwise depend on the version.
func (e *Executor) hello(ctx context.Context, args [][]byte) (protocol.Frame, error) {
	proto := int64(2)

	if len(args) > 1 {
		v, err := strconv.ParseInt(string(args[1]), 10, 64)
		if err != nil {
			return protocol.SimpleError("ERR Protocol version is not an integer or out of range"), nil
		}

		if v != 2 && v != 3 {
			return protocol.SimpleError("NOPROTO unsupported protocol version"), nil
		}

		proto = v
	}

	if len(args) > 2 {
		return errorReply("ERR Syntax error in HELLO option '%.128s'", args[2]), nil
	}

	fields := []protocol.MapEntry{
		{Key: "server", Value: protocol.BulkString("rudis")},
		{Key: "version", Value: protocol.BulkString(meta.VersionString())},
		{Key: "proto", Value: protocol.Integer(proto)},
		{Key: "mode", Value: protocol.BulkString("standalone")},
	}

	if proto == 3 {
		return protocol.NewMap(fields...), nil
	}

	flat := make(protocol.Array, 0, 2*len(fields))
	for _, field := range fields {
		flat = append(flat, protocol.BulkString(field.Key), field.Value)
	}

	return flat, nil
}

func (e *Executor) get(ctx context.Context, args [][]byte) (protocol.Frame, error) {
	value, err := e.store.Get(ctx, args[1])
	if errors.Is(err, storage.ErrNotFound) {
		return protocol.NullBulkString{}, nil
	}

	if err != nil {
		return nil, err
	}

	return protocol.BulkString(value), nil
}

func (e *Executor) set(ctx context.Context, args [][]byte) (protocol.Frame, error) {
	// Expiry and conditional options are not supported
	if len(args) > 3 {
		return protocol.SimpleError("ERR syntax error"), nil
	}

	if err := e.store.Set(ctx, args[1], args[2]); err != nil {
		return nil, err
	}

	return okReply, nil
}

func (e *Executor) del(ctx context.Context, args [][]byte) (protocol.Frame, error) {
	n, err := e.store.Delete(ctx, args[1:]...)
	if err != nil {
		return nil, err
	}

	return protocol.Integer(n), nil
}

func (e *Executor) exists(ctx context.Context, args [][]byte) (protocol.Frame, error) {
	n, err := e.store.Exists(ctx, args[1:]...)
	if err != nil {
		return nil, err
	}

	return protocol.Integer(n), nil
}

func (e *Executor) dbsize(ctx context.Context, args [][]byte) (protocol.Frame, error) {
	n, err := e.store.Len(ctx)
	if err != nil {
		return nil, err
	}

	return protocol.Integer(n), nil
}

// command replies with an empty command table, which is enough for
// redis-cli to start up.
func (e *Executor) command(ctx context.Context, args [][]byte) (protocol.Frame, error) {
	return protocol.Array{}, nil
}

var _ transport.Handler = (*Executor)(nil)
