// Command netpulse is a thin demonstration binary around internal/engine.
// Full CLI parsing (`-c/-s/-u/-p/-t/-i/-b/-f/-B/-P/...`) belongs to an
// external collaborator; this binary only exercises the public API with a
// handful of flags.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"time"

	"github.com/netpulse/netpulse/internal/engine"
)

func main() {
	var (
		server   = flag.Bool("s", false, "run as server")
		client   = flag.String("c", "", "run as client, connecting to this host")
		udp      = flag.Bool("u", false, "use UDP instead of TCP")
		port     = flag.Int("p", engine.DefaultPort, "port")
		interval = flag.Int("i", engine.DefaultIntervalSecs, "report interval, seconds")
		seconds  = flag.Int("t", engine.DefaultTimeSecs, "total duration, seconds")
		bitrate  = flag.Int64("b", -1, "bandwidth limit, bits/sec (-1 = unthrottled)")
		bind     = flag.String("B", "", "bind address")
	)
	flag.Parse()

	if *server == (*client != "") {
		fmt.Fprintln(os.Stderr, "netpulse: exactly one of -s or -c <host> is required")
		os.Exit(2)
	}

	eng := engine.NewEngine()

	cfg := engine.Config{
		IntervalSecs:      *interval,
		TimeSecs:          *seconds,
		BandwidthLimitBps: *bitrate,
		DestPort:          *port,
		SourcePort:        *port,
		OutputFormat:      engine.FormatMbitsPerSec,
		StateCallback: func(id int, state engine.State) {
			fmt.Fprintf(os.Stderr, "netpulse: instance %d -> %s\n", id, state)
		},
	}
	if *udp {
		cfg.Proto = engine.ProtoUDP
	}
	if *bind != "" {
		cfg.Source = net.ParseIP(*bind)
	}

	if *server {
		cfg.Role = engine.RoleServer
	} else {
		cfg.Role = engine.RoleClient
		cfg.Destination = net.ParseIP(*client)
	}

	id, err := eng.StartInstance(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "netpulse: start_instance: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "netpulse: started instance %d\n", id)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	<-ctx.Done()

	_ = eng.StopInstance(engine.InstanceAll)
	time.Sleep(engine.DeletionWaitBudget())
}
