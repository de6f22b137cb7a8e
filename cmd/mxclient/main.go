// Command mxclient is a runnable demo of the client role (§4.3.1): it
// borrows a pooled exchange client and performs one exchange_as_client call
// against the Calculator service cmd/mxserver registers, the way the
// teacher's integration test drives client.Call end to end but as a
// standalone binary instead of a test.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/mx-proto/mx/balance"
	"github.com/mx-proto/mx/logx"
	"github.com/mx-proto/mx/message"
	"github.com/mx-proto/mx/pool"
	"github.com/mx-proto/mx/queue"
)

type calculatorArgs struct {
	A, B int
}

type calculatorReply struct {
	Result int
}

func main() {
	addr := flag.String("addr", "127.0.0.1:9090", "server address to dial")
	spoolDir := flag.String("spool-dir", os.TempDir(), "directory for spooled attachment bodies")
	service := flag.String("service", "Calculator", "service name to invoke")
	method := flag.String("method", "Add", "method name to invoke")
	a := flag.Int("a", 3, "first operand")
	b := flag.Int("b", 5, "second operand")
	etcdEndpoints := flag.String("etcd", "", "comma-separated etcd endpoints; when set, -subscription-uri is routed to a live server instance instead of dialing -addr directly")
	subscriptionURI := flag.String("subscription-uri", "", "subscription URI to route to via etcd, e.g. poll://billing-events")
	flag.Parse()

	log, err := logx.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "mxclient: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	dialAddr := *addr
	if *etcdEndpoints != "" {
		if *subscriptionURI == "" {
			log.Error("-subscription-uri is required when -etcd is set")
			os.Exit(1)
		}
		coord, err := queue.NewEtcdCoordinator(strings.Split(*etcdEndpoints, ","))
		if err != nil {
			log.Error("etcd coordinator dial failed", logx.Error(err))
			os.Exit(1)
		}
		router := queue.NewSessionRouter(coord.Lookup, &balance.RoundRobinBalancer{})
		instance, err := router.Route(context.Background(), *subscriptionURI)
		if err != nil {
			log.Error("session routing failed", logx.String("subscriptionURI", *subscriptionURI), logx.Error(err))
			os.Exit(1)
		}
		log.Info("routed subscription to instance",
			logx.String("subscriptionURI", *subscriptionURI),
			logx.String("instanceID", instance.InstanceID),
			logx.String("addr", instance.Addr),
		)
		dialAddr = instance.Addr
	}

	p := pool.NewPool(dialAddr, 4, *spoolDir, func() (net.Conn, error) {
		return net.DialTimeout("tcp", dialAddr, 10*time.Second)
	})
	defer p.Close()

	pc, err := p.Get()
	if err != nil {
		log.Error("pool get failed", logx.Error(err))
		os.Exit(1)
	}

	argsBytes, err := bson.Marshal(calculatorArgs{A: *a, B: *b})
	if err != nil {
		log.Error("argument encoding failed", logx.Error(err))
		os.Exit(1)
	}

	req := &message.RequestMessage{
		CorrelationID: message.NewCorrelationID(),
		ServiceName:   *service,
		MethodName:    *method,
		Arguments:     argsBytes,
	}

	resp, _, err := pc.Exchange(req, nil)
	if err != nil {
		pc.Unusable()
		p.Put(pc)
		log.Error("exchange failed", logx.Error(err))
		os.Exit(1)
	}
	p.Put(pc)

	if resp == nil {
		log.Warn("server closed without a response")
		return
	}
	if resp.Error != nil {
		log.Error("remote method failed", logx.String("message", resp.Error.Message))
		os.Exit(1)
	}

	var reply calculatorReply
	if err := bson.Unmarshal(resp.Result, &reply); err != nil {
		log.Error("reply decoding failed", logx.Error(err))
		os.Exit(1)
	}

	log.Info("call succeeded",
		logx.String("service", *service),
		logx.String("method", *method),
		logx.Int("a", *a),
		logx.Int("b", *b),
		logx.Int("result", reply.Result),
	)
}
