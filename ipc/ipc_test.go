package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/xid"
)

func TestNoticeServerBroadcast(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "notice.sock")
	srv := NewNoticeServer(sock, nil)
	if err := srv.Listen(); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx)

	conn, err := net.Dial("unix", sock)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	time.Sleep(20 * time.Millisecond) // allow Accept to register the client.

	srv.Publish(&Notice{Kind: NoticeStateChanged, SocketID: xid.New(), State: "ESTABLISHED"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	var n Notice
	if err := json.Unmarshal([]byte(line), &n); err != nil {
		t.Fatal(err)
	}
	if n.State != "ESTABLISHED" {
		t.Fatalf("got state %q", n.State)
	}
}

func TestCommandChannelRoundTrip(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "cmd.sock")
	ch := NewCommandChannel(sock, nil, func(ctx context.Context, cmd Command) Reply {
		if cmd.Op != OpConnect {
			return Reply{OK: false, Error: "unexpected op"}
		}
		return Reply{OK: true}
	})
	if err := ch.Listen(); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ch.Serve(ctx)

	conn, err := net.Dial("unix", sock)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	id := xid.New()
	if err := json.NewEncoder(conn).Encode(Command{Op: OpConnect, SocketID: id}); err != nil {
		t.Fatal(err)
	}
	var reply Reply
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := json.NewDecoder(conn).Decode(&reply); err != nil {
		t.Fatal(err)
	}
	if !reply.OK || reply.SocketID != id {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}
