package socketrpc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/quarrytools/quarry/internal/model"
)

// Client talks to a running server over a Unix domain socket using
// JSON-RPC 2.0. It satisfies model.PoolReporter, model.BatchController,
// model.RunLister, and model.SchemaQuerier on the far side of the wire.
type Client struct {
	conn    net.Conn
	mu      sync.Mutex
	nextID  int
	scanner *bufio.Scanner
	encoder *json.Encoder
}

// Dial connects to the socket RPC server at the given path.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("socketrpc: dial: %w", err)
	}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, scannerInitBufSize), scannerMaxTokenSize)
	return &Client{
		conn:    conn,
		scanner: scanner,
		encoder: json.NewEncoder(conn),
	}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// call performs a JSON-RPC call and unmarshals the result into dest.
func (c *Client) call(method string, params interface{}, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID

	paramsData, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("socketrpc: marshal params: %w", err)
	}

	req := Request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  paramsData,
	}

	c.conn.SetDeadline(time.Now().Add(30 * time.Second))
	defer c.conn.SetDeadline(time.Time{})

	if err := c.encoder.Encode(req); err != nil {
		return fmt.Errorf("socketrpc: send: %w", err)
	}

	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return fmt.Errorf("socketrpc: read: %w", err)
		}
		return fmt.Errorf("socketrpc: connection closed")
	}

	var resp Response
	if err := json.Unmarshal(c.scanner.Bytes(), &resp); err != nil {
		return fmt.Errorf("socketrpc: unmarshal response: %w", err)
	}

	if resp.Error != nil {
		return resp.Error
	}

	if dest != nil {
		if err := json.Unmarshal(resp.Result, dest); err != nil {
			return fmt.Errorf("socketrpc: unmarshal result: %w", err)
		}
	}
	return nil
}

// Ping checks that the far side is alive.
func (c *Client) Ping() error {
	var result string
	if err := c.call("Ping", map[string]interface{}{}, &result); err != nil {
		return err
	}
	if result != "pong" {
		return fmt.Errorf("socketrpc: unexpected ping reply %q", result)
	}
	return nil
}

// PoolStats returns the live worker pool snapshot.
func (c *Client) PoolStats() (model.PoolStats, error) {
	var result model.PoolStats
	err := c.call("PoolStats", map[string]interface{}{}, &result)
	return result, err
}

// BatchStatus returns the current batch progress.
func (c *Client) BatchStatus() (model.BatchStatus, error) {
	var result model.BatchStatus
	err := c.call("BatchStatus", map[string]interface{}{}, &result)
	return result, err
}

// CancelBatch cancels the running batch; it reports whether one was running.
func (c *Client) CancelBatch() (bool, error) {
	var result bool
	err := c.call("CancelBatch", map[string]interface{}{}, &result)
	return result, err
}

// RecentRuns lists the latest completed runs.
func (c *Client) RecentRuns(limit int) ([]model.RunRecord, error) {
	var result []model.RunRecord
	err := c.call("RecentRuns", map[string]interface{}{"Limit": limit}, &result)
	return result, err
}

// Query runs a guarded read-only SQL query against the run registry.
func (c *Client) Query(sql string) ([]map[string]interface{}, error) {
	var result []map[string]interface{}
	err := c.call("Query", map[string]interface{}{"SQL": sql}, &result)
	return result, err
}

// Schema describes the registry's queryable tables.
func (c *Client) Schema() (string, error) {
	var result string
	err := c.call("Schema", map[string]interface{}{}, &result)
	return result, err
}
