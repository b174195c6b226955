// Package worker supervises a fixed pool of persistent external
// parsing processes. Each worker owns one long-lived process addressed
// through a line-oriented request/response protocol over its standard
// input and output; the pool load-balances parse requests across
// workers, health-checks idle ones, and restarts failed processes
// without interrupting the rest of the batch.
package worker

import (
	"fmt"
	"strings"
)

// Wire protocol markers. The external process prints ready once at
// startup, answers pong to ping, and terminates every response with
// the end marker. A restart marker inside a response asks the pool to
// recycle the process after the response completes.
const (
	markerReady         = "READY"
	markerPing          = "PING"
	markerPong          = "PONG"
	markerShutdown      = "SHUTDOWN"
	markerEndParse      = "END_PARSE"
	markerErrorPrefix   = "ERROR"
	markerRestartNeeded = "RESTART_NEEDED"
)

// DefaultEntryPoint is the request verb sent when none is configured.
const DefaultEntryPoint = "parse"

// Record is one parsed response line: Type/VarID/Value. VarID may
// carry a "::entry" suffix naming a sub-key; Entry holds it split off.
type Record struct {
	Type  string
	VarID string
	Entry string
	Value string
}

// ParseRecord splits one response line into a Record. The value field
// is everything after the second separator, so raw payloads may
// themselves contain slashes.
func ParseRecord(line string) (Record, error) {
	parts := strings.SplitN(line, "/", 3)
	if len(parts) != 3 {
		return Record{}, fmt.Errorf("worker: malformed record %q", line)
	}
	rec := Record{
		Type:  strings.TrimSpace(parts[0]),
		VarID: strings.TrimSpace(parts[1]),
		Value: parts[2],
	}
	if rec.Type == "" || rec.VarID == "" {
		return Record{}, fmt.Errorf("worker: malformed record %q", line)
	}
	if base, entry, ok := strings.Cut(rec.VarID, "::"); ok {
		rec.VarID = base
		rec.Entry = entry
	}
	return rec, nil
}

// requestLine renders one request: the entry point, the target file,
// then the raw variable keys. A scan request carries zero keys.
func requestLine(entryPoint, path string, keys []string) string {
	if entryPoint == "" {
		entryPoint = DefaultEntryPoint
	}
	fields := make([]string, 0, len(keys)+2)
	fields = append(fields, entryPoint, path)
	fields = append(fields, keys...)
	return strings.Join(fields, " ")
}
