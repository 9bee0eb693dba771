package workerpool

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/packmule/packmule/pkg/types"
)

// Wire framing between the orchestrator and an out-of-process worker is
// newline-delimited JSON, one request or response per line. Calls are
// correlated by request ID so a worker may answer out of order.

type wireRequest struct {
	ID      string          `json:"id"`
	Method  string          `json:"method"`
	Package *PackageRequest `json:"package,omitempty"`
}

type wireResponse struct {
	ID    string       `json:"id"`
	Stats *types.Stats `json:"stats,omitempty"`
	Error string       `json:"error,omitempty"`
}

const (
	methodPackage  = "packageBundle"
	methodShutdown = "shutdown"
)

// RunWorker is the child-process side of the protocol: it reads requests
// from r, packages bundles, and writes responses to w until shutdown or
// EOF. The CLI's worker mode calls this with stdin/stdout.
func RunWorker(r io.Reader, w io.Writer, packager *Packager) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	enc := json.NewEncoder(w)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req wireRequest
		if err := json.Unmarshal(line, &req); err != nil {
			return fmt.Errorf("malformed worker request: %w", err)
		}

		switch req.Method {
		case methodShutdown:
			return nil

		case methodPackage:
			resp := wireResponse{ID: req.ID}
			if req.Package == nil {
				resp.Error = "packageBundle request missing payload"
			} else if stats, err := packager.Package(context.Background(), req.Package); err != nil {
				resp.Error = err.Error()
			} else {
				resp.Stats = stats
			}
			if err := enc.Encode(&resp); err != nil {
				return fmt.Errorf("failed to write worker response: %w", err)
			}

		default:
			if err := enc.Encode(&wireResponse{ID: req.ID, Error: "unknown method: " + req.Method}); err != nil {
				return fmt.Errorf("failed to write worker response: %w", err)
			}
		}
	}
	return scanner.Err()
}

var errConnClosed = errors.New("worker connection closed")

// ipcConn is the orchestrator side of one worker connection
type ipcConn struct {
	enc     *json.Encoder
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan wireResponse
	closed  bool

	done chan struct{}
}

func newIPCConn(r io.Reader, w io.Writer) *ipcConn {
	c := &ipcConn{
		enc:     json.NewEncoder(w),
		pending: make(map[string]chan wireResponse),
		done:    make(chan struct{}),
	}
	go c.readLoop(r)
	return c
}

func (c *ipcConn) readLoop(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp wireResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.mu.Unlock()

		if ok {
			ch <- resp
		}
	}

	// Reader gone: fail every in-flight call
	c.mu.Lock()
	c.closed = true
	pending := c.pending
	c.pending = make(map[string]chan wireResponse)
	c.mu.Unlock()

	for id, ch := range pending {
		ch <- wireResponse{ID: id, Error: errConnClosed.Error()}
	}
	close(c.done)
}

func (c *ipcConn) call(ctx context.Context, id string, req *PackageRequest) (*types.Stats, error) {
	ch := make(chan wireResponse, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errConnClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	err := c.enc.Encode(&wireRequest{ID: id, Method: methodPackage, Package: req})
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("failed to send packaging request: %w", err)
	}

	select {
	case resp := <-ch:
		if resp.Error != "" {
			return nil, errors.New(resp.Error)
		}
		return resp.Stats, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

// shutdown asks the worker to exit; it does not wait
func (c *ipcConn) shutdown() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.enc.Encode(&wireRequest{Method: methodShutdown})
}
