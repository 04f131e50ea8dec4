// Command fspctl is a thin LIB-side CLI exercising a running fspd over its
// IPC command and notice channels (spec §4.8), the way
// examples/tcpclient/main.go in the teacher repo is a minimal client driving
// one connection end to end rather than a full application.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fspnet/fsp/ipc"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cmdSock := flag.String("cmd-sock", "/tmp/fspd.cmd.sock", "fspd command channel Unix socket path")
	noticeSock := flag.String("notice-sock", "/tmp/fspd.notice.sock", "fspd notice broadcast Unix socket path")
	op := flag.String("op", string(ipc.OpListenAt), "command to issue: ListenAt|Connect|Shutdown")
	watch := flag.Bool("watch", false, "after issuing the command, print notices until interrupted")
	flag.Parse()

	reply, err := issueCommand(*cmdSock, ipc.Command{Op: ipc.CommandOp(*op)})
	if err != nil {
		return fmt.Errorf("fspctl: %w", err)
	}
	fmt.Printf("reply: ok=%v error=%q\n", reply.OK, reply.Error)

	if !*watch {
		return nil
	}
	return watchNotices(*noticeSock)
}

func issueCommand(sockPath string, cmd ipc.Command) (ipc.Reply, error) {
	conn, err := net.DialTimeout("unix", sockPath, 2*time.Second)
	if err != nil {
		return ipc.Reply{}, err
	}
	defer conn.Close()
	if err := json.NewEncoder(conn).Encode(cmd); err != nil {
		return ipc.Reply{}, err
	}
	var reply ipc.Reply
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := json.NewDecoder(conn).Decode(&reply); err != nil {
		return ipc.Reply{}, err
	}
	return reply, nil
}

func watchNotices(sockPath string) error {
	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		return err
	}
	defer conn.Close()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		conn.Close()
	}()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var n ipc.Notice
		if err := json.Unmarshal(scanner.Bytes(), &n); err != nil {
			fmt.Fprintln(os.Stderr, "fspctl: malformed notice:", err)
			continue
		}
		fmt.Printf("[%s] alfid=%d state=%s detail=%s\n", n.Timestamp.Format(time.RFC3339), n.ALFID, n.State, n.Detail)
	}
	return scanner.Err()
}
