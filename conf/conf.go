// Package conf renders server and sentinel configuration files.
package conf

import (
	"fmt"
	"os"
	"strings"
)

// Well-known directive keywords.
const (
	Bind               = "bind"
	Port               = "port"
	ReplicaOf          = "replicaof"
	SlaveOf            = "slaveof"
	ClusterEnabled     = "cluster-enabled"
	ClusterConfigFile  = "cluster-config-file"
	ClusterNodeTimeout = "cluster-node-timeout"
	AppendOnly         = "appendonly"
	DBFilename         = "dbfilename"
	Sentinel           = "sentinel"
)

// DefaultSnapshotFile is the snapshot name a server uses unless dbfilename says otherwise.
const DefaultSnapshotFile = "dump.rdb"

// Directive is one line of a config file: a keyword followed by its arguments.
type Directive struct {
	Keyword string
	Args    []string
}

// D is shorthand for building a Directive.
func D(keyword string, args ...string) Directive {
	return Directive{Keyword: keyword, Args: args}
}

func (d Directive) String() string {
	parts := make([]string, 0, len(d.Args)+1)
	parts = append(parts, d.Keyword)
	for _, a := range d.Args {
		parts = append(parts, quote(a))
	}
	return strings.Join(parts, " ")
}

func quote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\"'\\") {
		return s
	}
	return fmt.Sprintf("%q", s)
}

// Config is an ordered list of directives.
type Config struct {
	Directives []Directive
}

// Add appends a directive and returns c for chaining.
func (c *Config) Add(keyword string, args ...string) *Config {
	c.Directives = append(c.Directives, D(keyword, args...))
	return c
}

// Clone returns a deep copy so builders can share a base config.
func (c Config) Clone() Config {
	out := Config{Directives: make([]Directive, len(c.Directives))}
	for i, d := range c.Directives {
		out.Directives[i] = Directive{Keyword: d.Keyword, Args: append([]string(nil), d.Args...)}
	}
	return out
}

// Values returns the arguments of every directive with the given keyword, in order.
func (c Config) Values(keyword string) [][]string {
	var out [][]string
	for _, d := range c.Directives {
		if strings.EqualFold(d.Keyword, keyword) {
			out = append(out, d.Args)
		}
	}
	return out
}

// Last returns the first argument of the last directive with the given keyword.
// Later directives win in server config files, so that's the effective value.
func (c Config) Last(keyword string) (string, bool) {
	vals := c.Values(keyword)
	for i := len(vals) - 1; i >= 0; i-- {
		if len(vals[i]) > 0 {
			return vals[i][0], true
		}
	}
	return "", false
}

// Artifacts lists the files, relative to the node's working directory, that the server may leave behind:
// the snapshot and any cluster membership file.
func (c Config) Artifacts() []string {
	snapshot := DefaultSnapshotFile
	if v, ok := c.Last(DBFilename); ok {
		snapshot = v
	}
	out := []string{snapshot}
	for _, args := range c.Values(ClusterConfigFile) {
		out = append(out, args...)
	}
	return out
}

func (c Config) String() string {
	var sb strings.Builder
	for _, d := range c.Directives {
		sb.WriteString(d.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}

// WriteTemp writes the config to a new file in dir named after prefix.
// Removing the file is up to the caller.
func (c Config) WriteTemp(dir, prefix string) (string, error) {
	f, err := os.CreateTemp(dir, prefix+"-*.conf")
	if err != nil {
		return "", fmt.Errorf("creating config file: %w", err)
	}
	_, err = f.WriteString(c.String())
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("writing config file %q: %w", f.Name(), err)
	}
	return f.Name(), nil
}
