// Package node supervises a single server or sentinel process.
//
// A Node moves through Stopped -> Starting -> Running -> Stopping -> Stopped. Start and Stop hold the
// node's lock for the whole transition, so only Stopped and Running can be observed from outside.
package node

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/tobi-laa/embedded-valkey/internal/exithook"
	"github.com/tobi-laa/embedded-valkey/internal/logging"
)

// State is a lifecycle state of a Node.
type State int

const (
	Stopped State = iota
	Starting
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// LineHandler receives one line of process output, without the trailing newline.
type LineHandler func(line string)

// Node owns one OS process. No other component signals or reads from that process.
type Node struct {
	// ID identifies the node in logs and in the exit hook registry.
	ID string

	port      int
	args      []string
	ready     *regexp.Regexp
	workDir   string
	artifacts []string
	// configFile is removed whenever the process goes away and rewritten from configText on the next Start.
	configFile string
	configText []byte
	forceStop bool
	onStdout  LineHandler
	onStderr  LineHandler
	log       *zap.SugaredLogger

	mut    sync.Mutex
	state  State
	exited chan struct{}

	// procMut guards cmd on its own so the exit hook can kill the process while Start is blocked.
	procMut sync.Mutex
	cmd     *exec.Cmd
}

type Option func(n *Node)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(n *Node) {
		n.log = l.Named("node")
	}
}

// WithForceStop makes Stop kill the process instead of asking it to terminate.
func WithForceStop(force bool) Option {
	return func(n *Node) {
		n.forceStop = force
	}
}

// WithStdout receives every stdout line, both while waiting for readiness and afterwards.
func WithStdout(h LineHandler) Option {
	return func(n *Node) {
		n.onStdout = h
	}
}

// WithStderr receives every stderr line, both while waiting for readiness and afterwards.
func WithStderr(h LineHandler) Option {
	return func(n *Node) {
		n.onStderr = h
	}
}

// WithWorkDir sets the directory the process runs in.
func WithWorkDir(dir string) Option {
	return func(n *Node) {
		n.workDir = dir
	}
}

// WithArtifacts names files, relative to the working directory, that are deleted after the node stops.
func WithArtifacts(names ...string) Option {
	return func(n *Node) {
		n.artifacts = append(n.artifacts, names...)
	}
}

// WithConfigFile names the generated config file the process reads. It is deleted whenever the process
// stops or fails to start, and written again by the next Start.
func WithConfigFile(path string) Option {
	return func(n *Node) {
		n.configFile = path
	}
}

// New builds a stopped node. args[0] must be the absolute path of the executable.
func New(port int, args []string, ready *regexp.Regexp, opts ...Option) (*Node, error) {
	if len(args) == 0 {
		return nil, errors.New("args must at least contain the executable")
	}
	if ready == nil {
		return nil, errors.New("readiness pattern is required")
	}
	n := &Node{
		ID:    uuid.NewString(),
		port:  port,
		args:  append([]string(nil), args...),
		ready: ready,
	}
	for _, o := range opts {
		o(n)
	}
	if n.log == nil {
		n.log = logging.Default("node")
	}
	n.log = n.log.With("Port", port, "NodeID", n.ID)
	if n.workDir == "" {
		n.workDir = filepath.Join(os.TempDir(), "embedded-valkey", fmt.Sprintf("data_dir_%d", port))
	}
	return n, nil
}

func (n *Node) Port() int { return n.port }

// Ports returns the single port of the node, so a Node can be used as a standalone topology.
func (n *Node) Ports() []int { return []int{n.port} }

// Args returns a copy of the argv the process is launched with.
func (n *Node) Args() []string { return append([]string(nil), n.args...) }

func (n *Node) WorkDir() string { return n.workDir }

// ConfigFile returns the path of the generated config file, if any.
func (n *Node) ConfigFile() string { return n.configFile }

// State waits for any in-flight transition and returns the resulting state.
func (n *Node) State() State {
	n.mut.Lock()
	defer n.mut.Unlock()
	return n.state
}

// Active reports whether the node is running.
func (n *Node) Active() bool {
	return n.State() == Running
}

// PID returns the process id, or 0 when no process is running.
func (n *Node) PID() int {
	n.procMut.Lock()
	defer n.procMut.Unlock()
	if n.cmd == nil || n.cmd.Process == nil {
		return 0
	}
	return n.cmd.Process.Pid
}

func (n *Node) String() string {
	return fmt.Sprintf("node port=%d args=%q", n.port, strings.Join(n.args, " "))
}

func checkExecutable(path string) error {
	st, err := os.Stat(path)
	if err != nil {
		return &ExecutableNotFoundError{Path: path, Err: err}
	}
	if !st.Mode().IsRegular() {
		return &ExecutableNotFoundError{Path: path, Err: errors.New("not a regular file")}
	}
	if runtime.GOOS != "windows" && st.Mode().Perm()&0o111 == 0 {
		return &PermissionError{Path: path}
	}
	return nil
}

// Start launches the process and blocks until its stdout shows the readiness pattern.
// Calling Start on a running node does nothing.
//
// If stdout ends before the pattern shows up, or ctx is done first, the process is killed and a
// *StartupTimeoutError with the captured output is returned. Without a deadline on ctx, Start waits
// for as long as the process keeps stdout open.
func (n *Node) Start(ctx context.Context) error {
	n.mut.Lock()
	defer n.mut.Unlock()

	if n.state == Running {
		n.log.Debug("already running")
		return nil
	}

	exe := n.args[0]
	if err := checkExecutable(exe); err != nil {
		return err
	}
	if err := os.MkdirAll(n.workDir, 0o755); err != nil {
		return fmt.Errorf("creating working dir %q: %w", n.workDir, err)
	}
	if err := n.ensureConfigFile(); err != nil {
		return err
	}

	n.state = Starting
	n.log.Infow("starting", "Args", n.args)

	cmd := exec.Command(exe, n.args[1:]...)
	cmd.Dir = n.workDir
	cmd.SysProcAttr = sysProcAttr()
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		n.state = Stopped
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		n.state = Stopped
		return fmt.Errorf("creating stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		n.state = Stopped
		return fmt.Errorf("starting process: %w", err)
	}
	n.setCmd(cmd)
	exithook.Register(n.ID, n.kill)
	pid := cmd.Process.Pid

	// stderr is drained from the start so a chatty process can't block on a full pipe before it's ready
	var forwarders sync.WaitGroup
	errOut := &cappedBuffer{max: maxCapturedStderr}
	forwarders.Add(1)
	go func() {
		defer forwarders.Done()
		n.forward(newLineScanner(stderr), "stderr", pid, func(line string) {
			errOut.add(line)
			if n.onStderr != nil {
				n.onStderr(line)
			}
		})
	}()

	// kill the process if the context is done before it became ready
	readyCh := make(chan struct{})
	killedCh := make(chan bool, 1)
	go func() {
		select {
		case <-ctx.Done():
			_ = cmd.Process.Kill()
			killedCh <- true
		case <-readyCh:
			killedCh <- false
		}
	}()

	sc := newLineScanner(stdout)
	startupLog, ok := awaitReady(sc, n.ready, n.onStdout)
	close(readyCh)
	if killed := <-killedCh; killed {
		ok = false
	}

	if !ok {
		_ = cmd.Process.Kill()
		forwarders.Wait()
		_ = cmd.Wait()
		exithook.Unregister(n.ID)
		n.setCmd(nil)
		n.state = Stopped
		n.removeArtifacts()
		n.removeConfigFile()
		startErr := &StartupTimeoutError{Port: n.port, Stdout: startupLog, Stderr: errOut.String(), Err: ctx.Err()}
		n.log.Errorw("process did not become ready", "Error", startErr)
		return startErr
	}

	forwarders.Add(1)
	go func() {
		defer forwarders.Done()
		n.forward(sc, "stdout", pid, n.onStdout)
	}()
	exited := make(chan struct{})
	n.exited = exited
	go func() {
		// Wait closes the pipes, so it has to wait for the forwarders to read everything
		forwarders.Wait()
		err := cmd.Wait()
		n.log.Debugw("process exited", "PID", pid, "Error", err)
		close(exited)
	}()

	n.state = Running
	n.log.Infow("ready", "PID", pid)
	return nil
}

func (n *Node) ensureConfigFile() error {
	if n.configFile == "" {
		return nil
	}
	if n.configText == nil {
		b, err := os.ReadFile(n.configFile)
		if err != nil {
			return fmt.Errorf("reading config file: %w", err)
		}
		n.configText = b
		return nil
	}
	if err := os.WriteFile(n.configFile, n.configText, 0o644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

func (n *Node) removeConfigFile() {
	if n.configFile == "" {
		return
	}
	if err := os.Remove(n.configFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		n.log.Warnw("unable to delete config file", "Path", n.configFile, "Error", err)
	}
}

// forward copies process output to the logger and the handler until the stream closes.
func (n *Node) forward(sc *bufio.Scanner, stream string, pid int, h LineHandler) {
	for sc.Scan() {
		line := sc.Text()
		if stream == "stderr" {
			n.log.Warnw(line, "Stream", stream, "PID", pid)
		} else {
			n.log.Debugw(line, "Stream", stream, "PID", pid)
		}
		if h != nil {
			h(line)
		}
	}
}

// Stop terminates the process and deletes the node's snapshot and cluster membership files.
// Calling Stop on a stopped node does nothing.
//
// Unless force stop is configured, the process is asked to terminate and Stop waits for it to exit.
// If ctx is done first, the process is killed and a *StopError is returned.
func (n *Node) Stop(ctx context.Context) error {
	n.mut.Lock()
	defer n.mut.Unlock()

	if n.state == Stopped {
		n.log.Debug("already stopped")
		return nil
	}
	n.state = Stopping
	n.log.Infow("stopping", "Force", n.forceStop)

	var stopErr error
	n.procMut.Lock()
	cmd := n.cmd
	n.procMut.Unlock()

	if n.forceStop {
		_ = cmd.Process.Kill()
		<-n.exited
	} else {
		err := terminate(cmd.Process)
		if err != nil && !errors.Is(err, os.ErrProcessDone) {
			n.log.Warnw("asking process to terminate failed, killing it", "Error", err)
			_ = cmd.Process.Kill()
		}
		select {
		case <-n.exited:
		case <-ctx.Done():
			_ = cmd.Process.Kill()
			<-n.exited
			stopErr = &StopError{Port: n.port, Err: ctx.Err()}
		}
	}

	exithook.Unregister(n.ID)
	n.setCmd(nil)
	n.removeArtifacts()
	n.removeConfigFile()
	n.state = Stopped
	n.log.Info("stopped")
	return stopErr
}

func terminate(p *os.Process) error {
	return p.Signal(syscall.SIGTERM)
}

func (n *Node) setCmd(cmd *exec.Cmd) {
	n.procMut.Lock()
	n.cmd = cmd
	n.procMut.Unlock()
}

// kill is the exit hook. It must not take n.mut, Start may be holding it.
func (n *Node) kill() {
	n.procMut.Lock()
	cmd := n.cmd
	n.procMut.Unlock()
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	n.removeArtifacts()
	n.removeConfigFile()
}

// removeArtifacts is best effort, failures are only logged.
func (n *Node) removeArtifacts() {
	var errs error
	for _, name := range n.artifacts {
		err := os.Remove(filepath.Join(n.workDir, name))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = multierr.Append(errs, err)
		}
	}
	if errs != nil {
		n.log.Warnw("unable to delete node files", "Error", errs)
	}
}
