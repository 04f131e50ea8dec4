package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"

	"github.com/rs/xid"
)

// CommandOp enumerates the system calls the LIB half sends across the
// command channel to the SVC half (spec §4.8).
type CommandOp string

const (
	OpListenAt        CommandOp = "ListenAt"
	OpConnect         CommandOp = "Connect"
	OpMultiply        CommandOp = "Multiply"
	OpCommit          CommandOp = "Commit"
	OpShutdown        CommandOp = "Shutdown"
	OpInstallMasterKey CommandOp = "InstallMasterKey"
)

// Command is one JSON-framed request read off the command channel.
type Command struct {
	Op       CommandOp
	SocketID xid.ID          `json:",omitempty"`
	Args     json.RawMessage `json:",omitempty"`
}

// Reply is the JSON-framed response written back for a Command.
type Reply struct {
	SocketID xid.ID `json:",omitempty"`
	OK       bool
	Error    string `json:",omitempty"`
}

// Handler processes one decoded Command and produces its Reply.
type Handler func(ctx context.Context, cmd Command) Reply

// CommandChannel is the Unix-domain-socket command listener the SVC half
// runs, structured the same way as NoticeServer (Listen/Serve split,
// per-connection goroutine) but request/response instead of fan-out, since
// each LIB caller issues its own commands rather than subscribing to a
// shared stream.
type CommandChannel struct {
	filename string
	log      *slog.Logger
	handle   Handler
	listener net.Listener
}

func NewCommandChannel(filename string, log *slog.Logger, handle Handler) *CommandChannel {
	return &CommandChannel{filename: filename, log: log, handle: handle}
}

func (c *CommandChannel) Listen() error {
	var err error
	c.listener, err = net.Listen("unix", c.filename)
	return err
}

// Serve accepts command-channel connections until ctx is canceled, each
// handled in its own goroutine so one slow LIB client cannot stall another.
func (c *CommandChannel) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		c.listener.Close()
	}()
	for ctx.Err() == nil {
		conn, err := c.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("ipc: accept on command socket %q: %w", c.filename, err)
		}
		go c.serveConn(ctx, conn)
	}
	return nil
}

func (c *CommandChannel) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	dec := json.NewDecoder(bufio.NewReader(conn))
	enc := json.NewEncoder(conn)
	for {
		var cmd Command
		if err := dec.Decode(&cmd); err != nil {
			return
		}
		reply := c.handle(ctx, cmd)
		reply.SocketID = cmd.SocketID
		if err := enc.Encode(reply); err != nil {
			if c.log != nil {
				c.log.Warn("ipc: failed writing reply", slog.Any("err", err))
			}
			return
		}
	}
}
