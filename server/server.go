// Package server builds nodes for standalone servers, replicas and sentinels.
package server

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"go.uber.org/zap"

	"github.com/tobi-laa/embedded-valkey/conf"
	"github.com/tobi-laa/embedded-valkey/executable"
	"github.com/tobi-laa/embedded-valkey/internal/logging"
	"github.com/tobi-laa/embedded-valkey/node"
)

const DefaultBind = "127.0.0.1"

// Builder turns a port and a role into a ready-to-start node.
// The zero value is not usable, use NewBuilder.
type Builder struct {
	exe       executable.Provider
	bind      string
	base      conf.Config
	dataDir   string
	forceStop bool
	stdout    node.LineHandler
	stderr    node.LineHandler
	log       *zap.SugaredLogger
}

type Option func(b *Builder)

// WithExecutable sets how the server binary is found. Defaults to executable.Default().
func WithExecutable(p executable.Provider) Option {
	return func(b *Builder) {
		b.exe = p
	}
}

// WithBind sets the address servers listen on.
func WithBind(addr string) Option {
	return func(b *Builder) {
		b.bind = addr
	}
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(b *Builder) {
		b.log = l
	}
}

func WithForceStop(force bool) Option {
	return func(b *Builder) {
		b.forceStop = force
	}
}

func WithStdout(h node.LineHandler) Option {
	return func(b *Builder) {
		b.stdout = h
	}
}

func WithStderr(h node.LineHandler) Option {
	return func(b *Builder) {
		b.stderr = h
	}
}

// WithSetting adds a directive to every config file the builder writes.
func WithSetting(keyword string, args ...string) Option {
	return func(b *Builder) {
		b.base.Add(keyword, args...)
	}
}

// WithDataDir sets the parent of the per-port working directories.
func WithDataDir(dir string) Option {
	return func(b *Builder) {
		b.dataDir = dir
	}
}

func NewBuilder(opts ...Option) *Builder {
	b := &Builder{bind: DefaultBind}
	for _, o := range opts {
		o(b)
	}
	if b.exe == nil {
		b.exe = executable.Default()
	}
	if b.log == nil {
		b.log = logging.Default("server")
	}
	return b
}

// Clone returns an independent copy with opts applied on top.
func (b *Builder) Clone(opts ...Option) *Builder {
	c := *b
	c.base = b.base.Clone()
	for _, o := range opts {
		o(&c)
	}
	return &c
}

func (b *Builder) Bind() string { return b.bind }

// Build creates a standalone server node. extra directives are appended after the builder's settings.
func (b *Builder) Build(ctx context.Context, port int, extra ...conf.Directive) (*node.Node, error) {
	return b.build(ctx, port, "server", node.ServerReadyPattern, nil, extra)
}

// BuildReplica creates a server that replicates from masterHost:masterPort.
func (b *Builder) BuildReplica(ctx context.Context, port int, masterHost string, masterPort int, extra ...conf.Directive) (*node.Node, error) {
	args := []string{"--" + conf.SlaveOf, masterHost, strconv.Itoa(masterPort)}
	return b.build(ctx, port, "server", node.ServerReadyPattern, args, extra)
}

// BuildSentinel creates a sentinel watching every given master.
func (b *Builder) BuildSentinel(ctx context.Context, port int, monitors ...Monitor) (*node.Node, error) {
	var extra []conf.Directive
	for _, m := range monitors {
		extra = append(extra, m.Directives()...)
	}
	return b.build(ctx, port, "sentinel", node.SentinelReadyPattern, []string{"--" + conf.Sentinel}, extra)
}

func (b *Builder) build(ctx context.Context, port int, kind string, ready *regexp.Regexp, flags []string, extra []conf.Directive) (*node.Node, error) {
	exe, err := b.exe.Resolve(ctx)
	if err != nil {
		return nil, &node.ExecutableNotFoundError{Err: err}
	}

	c := b.base.Clone()
	c.Add(conf.Bind, b.bind)
	c.Directives = append(c.Directives, extra...)
	path, err := c.WriteTemp(os.TempDir(), fmt.Sprintf("embedded-valkey-%s_%d", kind, port))
	if err != nil {
		return nil, err
	}

	args := []string{exe, path}
	args = append(args, flags...)
	args = append(args, "--"+conf.Port, strconv.Itoa(port))

	opts := []node.Option{
		node.WithLogger(b.log.Named(kind)),
		node.WithForceStop(b.forceStop),
		node.WithStdout(b.stdout),
		node.WithStderr(b.stderr),
		node.WithConfigFile(path),
	}
	if kind == "server" {
		opts = append(opts, node.WithArtifacts(c.Artifacts()...))
	}
	if b.dataDir != "" {
		opts = append(opts, node.WithWorkDir(filepath.Join(b.dataDir, fmt.Sprintf("data_dir_%d", port))))
	}
	return node.New(port, args, ready, opts...)
}
