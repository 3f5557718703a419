package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/tobi-laa/embedded-valkey/cluster"
	"github.com/tobi-laa/embedded-valkey/cluster/basic"
	"github.com/tobi-laa/embedded-valkey/cluster/ha"
	"github.com/tobi-laa/embedded-valkey/cluster/sharded"
	"github.com/tobi-laa/embedded-valkey/executable"
	"github.com/tobi-laa/embedded-valkey/internal/exithook"
	"github.com/tobi-laa/embedded-valkey/internal/logging"
	"github.com/tobi-laa/embedded-valkey/ports"
	"github.com/tobi-laa/embedded-valkey/server"
)

type group struct {
	name     string
	replicas int
}

// parseGroups reads "name:replicas" pairs. A bare name means no replicas.
func parseGroups(vals []string) ([]group, error) {
	var out []group
	for _, v := range vals {
		name, count, found := strings.Cut(v, ":")
		if name == "" {
			return nil, fmt.Errorf("invalid group %q, expected name:replicas", v)
		}
		g := group{name: name}
		if found {
			n, err := strconv.Atoi(count)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("invalid replica count in %q", v)
			}
			g.replicas = n
		}
		out = append(out, g)
	}
	return out, nil
}

func executableFrom(c *cli.Context) executable.Provider {
	var providers []executable.Provider
	if p := c.String("executable"); p != "" {
		providers = append(providers, executable.Path(p))
	}
	if url := c.String("download-url"); url != "" {
		providers = append(providers, executable.NewCachedURL(url, c.String("cache-path"),
			executable.WithDownloadLogger(logging.Default("embedded-valkey"))))
	}
	return executable.FirstOf(append(providers, executable.Default())...)
}

func serverBuilderFrom(c *cli.Context) *server.Builder {
	return server.NewBuilder(
		server.WithExecutable(executableFrom(c)),
		server.WithBind(c.String("bind")),
		server.WithDataDir(c.String("data-dir")),
		server.WithLogger(logging.Default("embedded-valkey")),
	)
}

// serve starts t, prints its ports and blocks until the process is interrupted, then stops t.
func serve(ctx context.Context, t cluster.Topology) error {
	c := basic.New(t).Context(ctx)
	if err := c.Start(); err != nil {
		return err
	}
	ps := make([]string, 0, len(t.Ports()))
	for _, p := range t.Ports() {
		ps = append(ps, strconv.Itoa(p))
	}
	fmt.Println(strings.Join(ps, " "))

	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return c.Context(stopCtx).Stop()
}

func main() {
	exithook.Disable()
	defer exithook.Run()

	app := &cli.App{
		Name:  "embedded-valkey",
		Usage: "runs throwaway valkey or redis topologies until interrupted",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "executable",
				Usage:   "Path of the server binary. Falls back to $" + executable.EnvVar + " and $PATH.",
				EnvVars: []string{executable.EnvVar},
			},
			&cli.StringFlag{
				Name:  "download-url",
				Usage: "URL to download the server binary from if it isn't cached yet.",
			},
			&cli.StringFlag{
				Name:  "cache-path",
				Usage: "Where the downloaded server binary is kept.",
				Value: os.TempDir() + "/embedded-valkey/valkey-server",
			},
			&cli.StringFlag{
				Name:  "bind",
				Usage: "The address servers listen on.",
				Value: server.DefaultBind,
			},
			&cli.StringFlag{
				Name:  "data-dir",
				Usage: "Parent of the per-node working directories.",
				Value: os.TempDir() + "/embedded-valkey",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "standalone",
				Usage: "a single server",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "port",
						Usage: "Port to listen on, 0 picks a free one.",
						Value: ports.DefaultServerPort,
					},
				},
				Action: func(c *cli.Context) error {
					port := c.Int("port")
					if port == 0 {
						p, err := ports.Ephemeral().Next()
						if err != nil {
							return err
						}
						port = p
					}
					n, err := serverBuilderFrom(c).Build(c.Context, port)
					if err != nil {
						return fmt.Errorf("building server: %w", err)
					}
					return serve(c.Context, n)
				},
			},
			{
				Name:  "ha",
				Usage: "sentinels watching replication groups",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "sentinels", Usage: "Number of sentinels.", Value: 1},
					&cli.IntFlag{Name: "quorum", Usage: "Sentinels needed to agree on a failover.", Value: 1},
					&cli.StringSliceFlag{Name: "group", Usage: "Replication group as name:replicas.", Value: cli.NewStringSlice("mymaster:1")},
					&cli.BoolFlag{Name: "ephemeral", Usage: "Let the OS pick the ports."},
				},
				Action: func(c *cli.Context) error {
					groups, err := parseGroups(c.StringSlice("group"))
					if err != nil {
						return err
					}
					opts := []ha.Option{
						ha.WithServerBuilder(serverBuilderFrom(c)),
						ha.WithSentinelCount(c.Int("sentinels")),
						ha.WithQuorum(c.Int("quorum")),
					}
					for _, g := range groups {
						opts = append(opts, ha.WithReplicationGroup(g.name, g.replicas))
					}
					if c.Bool("ephemeral") {
						opts = append(opts, ha.WithEphemeralPorts())
					}
					h, err := ha.NewBuilder(opts...).Build(c.Context)
					if err != nil {
						return fmt.Errorf("building high availability topology: %w", err)
					}
					return serve(c.Context, h)
				},
			},
			{
				Name:  "sharded",
				Usage: "a slot-sharded cluster",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: "shard", Usage: "Shard as name:replicas.", Value: cli.NewStringSlice("shard1:1", "shard2:1", "shard3:1")},
					&cli.BoolFlag{Name: "ephemeral", Usage: "Let the OS pick the ports."},
					&cli.DurationFlag{Name: "init-timeout", Usage: "Bound on each wait while the cluster forms.", Value: sharded.DefaultInitializationTimeout},
				},
				Action: func(c *cli.Context) error {
					shards, err := parseGroups(c.StringSlice("shard"))
					if err != nil {
						return err
					}
					opts := []sharded.Option{
						sharded.WithServerBuilder(serverBuilderFrom(c)),
						sharded.WithInitializationTimeout(c.Duration("init-timeout")),
					}
					for _, s := range shards {
						opts = append(opts, sharded.WithShard(s.name, s.replicas))
					}
					if c.Bool("ephemeral") {
						opts = append(opts, sharded.WithEphemeralPorts())
					}
					sc, err := sharded.NewBuilder(opts...).Build(c.Context)
					if err != nil {
						return fmt.Errorf("building sharded cluster: %w", err)
					}
					return serve(c.Context, sc)
				},
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := app.RunContext(ctx, os.Args); err != nil {
		exithook.Run()
		log.Fatal(err)
	}
}
