// Command mxserver is a runnable demo of the server role (§4.3.3): it
// registers one reflection-based service and serves both the client and
// the subscriber identity over the same listener, the way the teacher's
// own integration test drives client, registry, and server together but
// as a standalone binary instead of a test.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"

	"github.com/mx-proto/mx/config"
	"github.com/mx-proto/mx/dispatch"
	"github.com/mx-proto/mx/exchange"
	"github.com/mx-proto/mx/logx"
	"github.com/mx-proto/mx/message"
	"github.com/mx-proto/mx/queue"
	"github.com/mx-proto/mx/stream"
)

// Calculator is the demo service: two plain methods in the
// (receiver, *Args, *Reply) error shape dispatch.Registry requires.
type Calculator struct{}

type CalculatorArgs struct {
	A, B int
}

type CalculatorReply struct {
	Result int
}

func (c *Calculator) Add(args *CalculatorArgs, reply *CalculatorReply) error {
	reply.Result = args.A + args.B
	return nil
}

func (c *Calculator) Divide(args *CalculatorArgs, reply *CalculatorReply) error {
	if args.B == 0 {
		return fmt.Errorf("mxserver: division by zero")
	}
	reply.Result = args.A / args.B
	return nil
}

func main() {
	addr := flag.String("addr", ":9090", "listen address")
	spoolDir := flag.String("spool-dir", os.TempDir(), "directory for spooled attachment bodies")
	configPath := flag.String("config", "", "path to a Halibut.toml config file (optional)")
	subscriptionURI := flag.String("subscription-uri", "poll://demo-queue", "subscription URI served to subscriber-role peers")
	etcdEndpoint := flag.String("etcd", "", "etcd endpoint to advertise this instance on (optional)")
	flag.Parse()

	log, err := logx.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "mxserver: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg := config.Defaults()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Error("config load failed, falling back to defaults", logx.Error(err))
		} else {
			cfg = loaded
		}
	}

	registry := dispatch.NewRegistry()
	if err := registry.Register(&Calculator{}); err != nil {
		log.Error("service registration failed", logx.Error(err))
		os.Exit(1)
	}

	chain := dispatch.Chain(
		dispatch.LoggingMiddleware(log),
		dispatch.TimeoutMiddleware(cfg.PollingRequestMaximumMessageProcessingTimeout),
	)
	handler := dispatch.ToExchangeHandler(chain(registry.Invoke))

	pending := queue.NewInMemoryQueue(64, cfg.PollingQueueWaitTimeout)
	queueLookup := func(identity message.RemoteIdentity) exchange.Queue {
		return pending
	}

	if *etcdEndpoint != "" {
		coord, err := queue.NewEtcdCoordinator([]string{*etcdEndpoint})
		if err != nil {
			log.Error("etcd coordinator dial failed", logx.Error(err))
		} else {
			instance := queue.SessionInstance{InstanceID: "mxserver-" + *addr, Addr: *addr}
			if err := coord.Advertise(context.Background(), *subscriptionURI, instance, 10); err != nil {
				log.Error("etcd advertise failed", logx.Error(err))
			} else {
				log.Info("advertised subscription instance", logx.String("subscriptionURI", *subscriptionURI), logx.String("addr", *addr))
			}
		}
	}

	listener, err := net.Listen("tcp", *addr)
	if err != nil {
		log.Error("listen failed", logx.Error(err))
		os.Exit(1)
	}
	log.Info("mxserver listening", logx.String("addr", *addr))

	for {
		conn, err := listener.Accept()
		if err != nil {
			log.Error("accept failed", logx.Error(err))
			continue
		}
		go serveConn(conn, *spoolDir, handler, queueLookup, log)
	}
}

func serveConn(conn net.Conn, spoolDir string, handler exchange.Handler, queueLookup exchange.QueueLookup, log logx.Logger) {
	defer conn.Close()
	s := stream.New(conn, spoolDir)
	if err := exchange.Serve(s, handler, queueLookup); err != nil {
		log.Warn("session ended", logx.String("remote", conn.RemoteAddr().String()), logx.Error(err))
	}
}
