package node

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestServerReadyPattern(t *testing.T) {
	cases := []struct {
		name string
		line string
		want bool
	}{
		{"redis 2.8", "[4417] 12 Mar 10:15:01.312 * The server is now ready to accept connections on port 6379", true},
		{"redis 6.2", "1:M 12 Mar 2024 10:15:01.312 * Ready to accept connections", true},
		{"redis 7.2", "1:M 12 Mar 2024 10:15:01.312 * Ready to accept connections tcp", true},
		{"valkey 8", "7:M 02 Jan 2025 08:00:00.101 * Ready to accept connections tcp", true},
		{"loading", "1:M 12 Mar 2024 10:15:01.311 * DB loaded from disk: 0.000 seconds", false},
		{"banner", "1:C 12 Mar 2024 10:15:01.300 # Redis version=7.2.4, bits=64, commit=00000000, modified=0, pid=1, just started", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, ServerReadyPattern.MatchString(c.line))
		})
	}
}

func TestSentinelReadyPattern(t *testing.T) {
	assert.True(t, SentinelReadyPattern.MatchString("[4417] 12 Mar 10:15:01.312 # Sentinel runid is 4c0a7e0e33e3a3b33c2e1bd5ee5d7ff5f0e6bd0c"))
	assert.True(t, SentinelReadyPattern.MatchString("12345:X 04 Jun 2019 14:02:11.101 # Sentinel ID is 6fe8f4bd4e4ffbc1ae16b6e4cd4b4ac8c9ba8d7d"))
	assert.True(t, SentinelReadyPattern.MatchString("1:X 12 Mar 2024 10:15:01.312 * Sentinel ID is 4c0a7e0e33e3a3b33c2e1bd5ee5d7ff5f0e6bd0c"))
	assert.True(t, SentinelReadyPattern.MatchString("7:X 02 Jan 2025 08:00:00.101 * Sentinel ID is 0bd5c1b7e7f2d0cc9a1e1c9a0a6b3e1e2f4c5d6a"))
	assert.False(t, SentinelReadyPattern.MatchString("1:X 12 Mar 2024 10:15:01.312 * Ready to accept connections tcp"))
}

func TestAwaitReady(t *testing.T) {
	out := "line one\nline two\n1:M 12 Mar 2024 10:15:01.312 * Ready to accept connections tcp\nafter\n"
	var seen []string
	sc := newLineScanner(strings.NewReader(out))

	log, ok := awaitReady(sc, ServerReadyPattern, func(l string) { seen = append(seen, l) })

	assert.True(t, ok)
	assert.Equal(t, "\nline one\nline two", log)
	assert.Len(t, seen, 3)
	// the rest of the stream is left for the caller
	assert.True(t, sc.Scan())
	assert.Equal(t, "after", sc.Text())
}

func TestAwaitReadyStreamEnds(t *testing.T) {
	sc := newLineScanner(strings.NewReader("Fatal error, can't open config file\n"))
	log, ok := awaitReady(sc, ServerReadyPattern, nil)
	assert.False(t, ok)
	assert.Equal(t, "\nFatal error, can't open config file", log)
}

func TestStartupTimeoutErrorMessage(t *testing.T) {
	err := &StartupTimeoutError{Port: 6380}
	assert.Equal(t,
		"server process on port 6380 appears not to have started. No output was found in standard-out. No output was found in standard-err.",
		err.Error())

	err = &StartupTimeoutError{Port: 6380, Stdout: "\nbooting", Stderr: "bad option"}
	assert.Contains(t, err.Error(), "Standard-out contains this: \nbooting")
	assert.Contains(t, err.Error(), "Standard-err contains this: bad option")
}

func TestCappedBuffer(t *testing.T) {
	b := &cappedBuffer{max: 10}
	b.add("abcd")
	b.add("efgh")
	b.add("ijkl")
	b.add("m")
	assert.Equal(t, "abcd\nefgh\n[truncated]", b.String())
}
