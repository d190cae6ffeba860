// Command lockerctl is the client-facing CLI for a locker cluster: a
// thin wrapper over internal/coordinator, the counterpart of the
// teacher's db_client demo but driven by urfave/cli subcommands
// instead of a fixed argv protocol.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/bycanvas/locker/internal/coordinator"
	"github.com/bycanvas/locker/internal/lease"
	"github.com/bycanvas/locker/internal/membership"
	"github.com/bycanvas/locker/internal/metrics"
	"github.com/bycanvas/locker/internal/transport"
)

func splitNodes(s string) []lease.NodeID {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]lease.NodeID, 0, len(parts))
	for _, p := range parts {
		out = append(out, lease.NodeID(strings.TrimSpace(p)))
	}
	return out
}

func buildCoordinator(c *cli.Context) *coordinator.Coordinator {
	masters := splitNodes(c.String("masters"))
	replicas := splitNodes(c.String("replicas"))
	w := c.Int("w")
	if w <= 0 {
		w = lease.DefaultW(len(masters))
	}
	cfg := membership.New(lease.Configuration{W: w, Masters: masters, Replicas: replicas})
	tr := transport.NewHTTPTransport()
	return coordinator.New(cfg, tr, metrics.New(nil, "lockerctl"))
}

func timeoutFlag(c *cli.Context) time.Duration {
	return time.Duration(c.Int("timeout-ms")) * time.Millisecond
}

var clusterFlags = []cli.Flag{
	&cli.StringFlag{Name: "masters", Usage: "comma-separated master node addresses", Required: true},
	&cli.StringFlag{Name: "replicas", Usage: "comma-separated replica node addresses"},
	&cli.IntFlag{Name: "w", Usage: "write quorum size, default majority of masters"},
	&cli.IntFlag{Name: "timeout-ms", Value: 2000, Usage: "per-call timeout in milliseconds"},
}

func main() {
	app := &cli.App{
		Name:  "lockerctl",
		Usage: "issue operations against a locker cluster",
		Commands: []*cli.Command{
			lockCmd, releaseCmd, extendCmd, readCmd, setNodesCmd, setWCmd, summaryCmd, lagCmd,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var lockCmd = &cli.Command{
	Name:      "lock",
	Usage:     "acquire a key with the given value and lease",
	ArgsUsage: "<key> <value>",
	Flags:     append(clusterFlags, &cli.Int64Flag{Name: "lease-ms", Value: 60000}),
	Action: func(c *cli.Context) error {
		if c.NArg() != 2 {
			return cli.Exit("usage: lockerctl lock <key> <value>", 1)
		}
		co := buildCoordinator(c)
		res, err := co.Lock(context.Background(), lease.Key(c.Args().Get(0)), lease.Value(c.Args().Get(1)), c.Int64("lease-ms"), timeoutFlag(c))
		if err != nil {
			return err
		}
		fmt.Printf("ok W=%d Voted=%d Committed=%d\n", res.W, res.Voted, res.Committed)
		return nil
	},
}

var releaseCmd = &cli.Command{
	Name:      "release",
	Usage:     "release a key, if value still matches",
	ArgsUsage: "<key> <value>",
	Flags:     clusterFlags,
	Action: func(c *cli.Context) error {
		if c.NArg() != 2 {
			return cli.Exit("usage: lockerctl release <key> <value>", 1)
		}
		co := buildCoordinator(c)
		res, err := co.Release(context.Background(), lease.Key(c.Args().Get(0)), lease.Value(c.Args().Get(1)), timeoutFlag(c))
		if err != nil {
			return err
		}
		fmt.Printf("ok W=%d Voted=%d Committed=%d\n", res.W, res.Voted, res.Committed)
		return nil
	},
}

var extendCmd = &cli.Command{
	Name:      "extend",
	Usage:     "extend the lease on a key, if value still matches",
	ArgsUsage: "<key> <value>",
	Flags:     append(clusterFlags, &cli.Int64Flag{Name: "lease-ms", Value: 60000}),
	Action: func(c *cli.Context) error {
		if c.NArg() != 2 {
			return cli.Exit("usage: lockerctl extend <key> <value>", 1)
		}
		co := buildCoordinator(c)
		if err := co.ExtendLease(context.Background(), lease.Key(c.Args().Get(0)), lease.Value(c.Args().Get(1)), c.Int64("lease-ms"), timeoutFlag(c)); err != nil {
			return err
		}
		fmt.Println("ok")
		return nil
	},
}

var readCmd = &cli.Command{
	Name:      "read",
	Usage:     "dirty-read a key from the first reachable node that holds it",
	ArgsUsage: "<key>",
	Flags:     clusterFlags,
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return cli.Exit("usage: lockerctl read <key>", 1)
		}
		co := buildCoordinator(c)
		v, err := co.DirtyRead(context.Background(), timeoutFlag(c)).Get(context.Background(), lease.Key(c.Args().Get(0)))
		if err != nil {
			return err
		}
		fmt.Println(string(v))
		return nil
	},
}

var setNodesCmd = &cli.Command{
	Name:  "set-nodes",
	Usage: "broadcast a new master/replica set to the current cluster",
	Flags: append(clusterFlags,
		&cli.StringFlag{Name: "new-masters", Required: true},
		&cli.StringFlag{Name: "new-replicas"},
	),
	Action: func(c *cli.Context) error {
		co := buildCoordinator(c)
		co.SetNodes(context.Background(), splitNodes(c.String("new-masters")), splitNodes(c.String("new-replicas")), timeoutFlag(c))
		fmt.Println("ok")
		return nil
	},
}

var setWCmd = &cli.Command{
	Name:      "set-w",
	Usage:     "broadcast a new write quorum size",
	ArgsUsage: "<w>",
	Flags:     clusterFlags,
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return cli.Exit("usage: lockerctl set-w <w>", 1)
		}
		var w int
		if _, err := fmt.Sscanf(c.Args().Get(0), "%d", &w); err != nil {
			return err
		}
		co := buildCoordinator(c)
		co.SetW(context.Background(), w, timeoutFlag(c))
		fmt.Println("ok")
		return nil
	},
}

var summaryCmd = &cli.Command{
	Name:  "summary",
	Usage: "print this client's local operation counters",
	Flags: clusterFlags,
	Action: func(c *cli.Context) error {
		co := buildCoordinator(c)
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(co.Summary())
	},
}

var lagCmd = &cli.Command{
	Name:  "lag",
	Usage: "probe replication propagation latency to every replica",
	Flags: clusterFlags,
	Action: func(c *cli.Context) error {
		co := buildCoordinator(c)
		lags := co.Lag(context.Background(), timeoutFlag(c))
		for node, d := range lags {
			fmt.Printf("%s %s\n", node, d)
		}
		return nil
	},
}
