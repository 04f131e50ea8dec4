// Command fspd is the SVC half of spec §4.8: it owns the wire transport,
// the ALFID translation look-aside buffer and every connection's session
// keys, accepting commands from LIB processes over a Unix domain socket and
// publishing lifecycle notices back to them. Structured the same way as
// github.com/soypat/lneto's examples/tcpclient/main.go: a flag-parsing
// main that hands off to a run() error, with signal.Notify tearing the
// process down cleanly.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fspnet/fsp/ipc"
	"github.com/fspnet/fsp/svc"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	udpPort := flag.Uint("udp-port", svc.DefaultUDPTunnelPort, "UDP tunnel listen port")
	metricsAddr := flag.String("metrics-addr", ":9191", "Prometheus /metrics listen address")
	noticeSock := flag.String("notice-sock", "/tmp/fspd.notice.sock", "notice broadcast Unix socket path")
	cmdSock := flag.String("cmd-sock", "/tmp/fspd.cmd.sock", "command channel Unix socket path")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	transport, err := svc.ListenUDPTunnel(uint16(*udpPort))
	if err != nil {
		return fmt.Errorf("fspd: opening UDP tunnel: %w", err)
	}
	defer transport.Close()
	log.Info("fspd: listening", slog.Uint64("udp_port", uint64(*udpPort)))

	registry := prometheus.NewRegistry()
	metrics := svc.NewMetrics(registry)

	os.Remove(*noticeSock)
	notices := ipc.NewNoticeServer(*noticeSock, log)
	if err := notices.Listen(); err != nil {
		return fmt.Errorf("fspd: notice socket: %w", err)
	}

	dispatcher := svc.NewDispatcher(transport, metrics, notices)
	dispatcher.SetLogger(log)

	os.Remove(*cmdSock)
	commands := ipc.NewCommandChannel(*cmdSock, log, commandHandler(dispatcher))
	if err := commands.Listen(); err != nil {
		return fmt.Errorf("fspd: command socket: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		s := <-sig
		log.Info("fspd: terminating on signal", slog.String("signal", s.String()))
		cancel()
	}()

	go func() { _ = notices.Serve(ctx) }()
	go func() { _ = commands.Serve(ctx) }()
	go dispatcher.RunTimers(ctx)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	metricsSrv := &http.Server{Addr: *metricsAddr, Handler: mux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("fspd: metrics server", slog.String("err", err.Error()))
		}
	}()
	go func() {
		<-ctx.Done()
		metricsSrv.Close()
	}()

	return recvLoop(ctx, transport, dispatcher, log)
}

// recvLoop is SVC's single packet-receive thread (spec §5's scheduling
// model names at least one).
func recvLoop(ctx context.Context, transport *svc.UDPTunnel, dispatcher *svc.Dispatcher, log *slog.Logger) error {
	buf := make([]byte, 65536)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		env, n, err := transport.Recv(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn("fspd: recv error", slog.String("err", err.Error()))
			continue
		}
		if err := dispatcher.HandleInbound(env, buf[:n]); err != nil {
			log.Debug("fspd: dispatch error", slog.String("err", err.Error()))
		}
	}
}

func commandHandler(d *svc.Dispatcher) ipc.Handler {
	return func(ctx context.Context, cmd ipc.Command) ipc.Reply {
		switch cmd.Op {
		case ipc.OpListenAt:
			if _, err := d.ListenAt(1 << 16); err != nil {
				return ipc.Reply{OK: false, Error: err.Error()}
			}
			return ipc.Reply{OK: true}
		default:
			return ipc.Reply{OK: false, Error: "fspd: command not yet implemented: " + string(cmd.Op)}
		}
	}
}
