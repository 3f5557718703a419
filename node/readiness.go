package node

import (
	"bufio"
	"io"
	"regexp"
	"strings"
	"sync"
)

var (
	// ServerReadyPattern matches the line a server prints once it accepts clients.
	ServerReadyPattern = regexp.MustCompile(`(?i)ready to accept connections`)
	// SentinelReadyPattern matches the line a sentinel prints once it's up.
	SentinelReadyPattern = regexp.MustCompile(`Sentinel (runid|ID) is`)
)

const (
	maxLineLen        = 1 << 20
	maxCapturedStderr = 64 << 10
)

func newLineScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineLen)
	return sc
}

// awaitReady consumes lines from sc until one matches pattern or the stream ends.
// Every line, including the matching one, is handed to h. The lines read before the match are returned.
func awaitReady(sc *bufio.Scanner, pattern *regexp.Regexp, h LineHandler) (string, bool) {
	var log strings.Builder
	for sc.Scan() {
		line := sc.Text()
		if h != nil {
			h(line)
		}
		if pattern.MatchString(line) {
			return log.String(), true
		}
		log.WriteString("\n")
		log.WriteString(line)
	}
	return log.String(), false
}

// cappedBuffer collects lines up to max bytes and drops the rest.
type cappedBuffer struct {
	max int

	mut       sync.Mutex
	sb        strings.Builder
	truncated bool
}

func (b *cappedBuffer) add(line string) {
	b.mut.Lock()
	defer b.mut.Unlock()
	if b.truncated || b.sb.Len()+len(line)+1 > b.max {
		b.truncated = true
		return
	}
	if b.sb.Len() > 0 {
		b.sb.WriteByte('\n')
	}
	b.sb.WriteString(line)
}

func (b *cappedBuffer) String() string {
	b.mut.Lock()
	defer b.mut.Unlock()
	if b.truncated {
		return b.sb.String() + "\n[truncated]"
	}
	return b.sb.String()
}
