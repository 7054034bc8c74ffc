package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/me/gobs/pkg/model"
)

// DialTimeout bounds connection establishment to the daemon.
const DialTimeout = 5 * time.Second

// Client is a JSON-RPC 2.0 client over one persistent TCP connection.
// Calls are serialized; the daemon answers in order.
type Client struct {
	conn net.Conn
	r    *bufio.Reader

	mu  sync.Mutex
	seq int64
}

// Dial connects to the daemon at addr (host:port).
func Dial(addr string) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon at %s: %w", addr, err)
	}
	return &Client{
		conn: conn,
		r:    bufio.NewReaderSize(conn, maxLineBytes),
	}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Call performs one request/response round trip. A non-nil result receives
// the decoded result field. Errors carrying a daemon error code are
// returned as *model.Error so callers can branch on the code.
func (c *Client) Call(ctx context.Context, method string, params, result any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	req := Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(strconv.FormatInt(c.seq, 10)),
		Method:  method,
	}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal params: %w", err)
		}
		req.Params = raw
	}

	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetDeadline(deadline)
		defer c.conn.SetDeadline(time.Time{})
	}

	enc := json.NewEncoder(c.conn)
	if err := enc.Encode(&req); err != nil {
		return fmt.Errorf("rpc call %s: %w", method, err)
	}

	line, err := c.r.ReadBytes('\n')
	if err != nil {
		return fmt.Errorf("rpc call %s: %w", method, err)
	}

	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return fmt.Errorf("rpc call %s: unmarshal response: %w", method, err)
	}
	if resp.Error != nil {
		if resp.Error.Data != nil {
			return resp.Error.Data
		}
		return resp.Error
	}
	if result != nil {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("rpc call %s: unmarshal result: %w", method, err)
		}
	}
	return nil
}

// Submit registers a new job and returns its id.
func (c *Client) Submit(ctx context.Context, sub *model.Submission) (int64, error) {
	var res SubmitResult
	if err := c.Call(ctx, "submit", sub, &res); err != nil {
		return 0, err
	}
	return res.JobID, nil
}

// Remove deletes a job, killing it first if it is running.
func (c *Client) Remove(ctx context.Context, id int64) error {
	return c.Call(ctx, "remove", JobParams{JobID: id}, nil)
}

// Run asks the daemon to dispatch a waiting job ahead of the queue.
func (c *Client) Run(ctx context.Context, id int64) error {
	return c.Call(ctx, "run", JobParams{JobID: id}, nil)
}

// ListWaiting returns the waiting queue, highest priority first.
func (c *Client) ListWaiting(ctx context.Context) ([]*model.Job, error) {
	var jobs []*model.Job
	if err := c.Call(ctx, "list_waiting", nil, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// ListRunning returns the running jobs, oldest start first.
func (c *Client) ListRunning(ctx context.Context) ([]*model.Job, error) {
	var jobs []*model.Job
	if err := c.Call(ctx, "list_running", nil, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// ListFinished returns up to limit finished jobs, newest first; limit <= 0
// means all.
func (c *Client) ListFinished(ctx context.Context, limit int) ([]*model.Job, error) {
	var jobs []*model.Job
	if err := c.Call(ctx, "list_finished", ListParams{Limit: limit}, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// GetCPUs reports the daemon's CPU slot usage.
func (c *Client) GetCPUs(ctx context.Context) (model.CPUUsage, error) {
	var usage model.CPUUsage
	err := c.Call(ctx, "get_cpus", nil, &usage)
	return usage, err
}

// GetConfig returns the daemon's runtime configuration.
func (c *Client) GetConfig(ctx context.Context) (map[string]string, error) {
	var cfg map[string]string
	if err := c.Call(ctx, "get_config", nil, &cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SetConfig updates one runtime key and returns the resulting config.
func (c *Client) SetConfig(ctx context.Context, key, value string) (map[string]string, error) {
	var cfg map[string]string
	if err := c.Call(ctx, "set_config", SetConfigParams{Key: key, Value: value}, &cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
