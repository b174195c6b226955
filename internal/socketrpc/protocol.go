package socketrpc

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// JSON-RPC 2.0 Method Reference
//
// The socket RPC server exposes the running server's control surface
// over a Unix domain socket, one JSON request and response per line.
//
//   Method         Params               Result
//   ───────────    ─────────────────    ──────────────────────────
//   Ping           (none)               "pong"
//   PoolStats      (none)               model.PoolStats
//   BatchStatus    (none)               model.BatchStatus
//   CancelBatch    (none)               bool (true when a batch was running)
//   RecentRuns     {Limit: int}         []model.RunRecord
//   Query          {SQL: string}        []map[string]interface{}
//   Schema         (none)               string
//
// Methods with optional params (RecentRuns) accept empty or null
// params gracefully.
//
// Error codes follow JSON-RPC 2.0:
//   -32700  Parse error (malformed JSON)
//   -32601  Method not found
//   -32602  Invalid params
//   -32603  Internal error (marshal failure)
//   -32000  Application error (query failure)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string { return e.Message }

// DefaultSocketPath returns the default Unix socket path.
// It prefers $XDG_RUNTIME_DIR/quarry/quarry.sock, falling back to
// ~/.local/state/quarry/quarry.sock.
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "quarry", "quarry.sock")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/quarry.sock"
	}
	return filepath.Join(home, ".local", "state", "quarry", "quarry.sock")
}
