package workerpool

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/google/uuid"
	"github.com/packmule/packmule/pkg/types"
)

// transport is one worker's packaging channel. The in-process transport
// runs the packager on the calling goroutine; the process transport
// frames calls over a child process's stdio.
type transport interface {
	call(ctx context.Context, req *PackageRequest) (*types.Stats, error)
	close() error
}

type worker struct {
	id        string
	transport transport
}

// inProcessTransport executes packaging in this process. Each pool
// worker goroutine owns one, so bundles still package concurrently.
type inProcessTransport struct {
	packager *Packager
}

func (t *inProcessTransport) call(ctx context.Context, req *PackageRequest) (*types.Stats, error) {
	return t.packager.Package(ctx, req)
}

func (t *inProcessTransport) close() error {
	return nil
}

// processTransport runs packaging in a child worker process speaking
// the line-framed JSON protocol over stdin/stdout
type processTransport struct {
	cmd  *exec.Cmd
	conn *ipcConn
}

func newProcessTransport(cacheDir string, env map[string]string) (*processTransport, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to locate worker executable: %w", err)
	}

	args := []string{"worker"}
	if cacheDir != "" {
		args = append(args, "--cache-dir", cacheDir)
	}
	cmd := exec.Command(exe, args...)
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker process: %w", err)
	}

	return &processTransport{
		cmd:  cmd,
		conn: newIPCConn(stdout, stdin),
	}, nil
}

func (t *processTransport) call(ctx context.Context, req *PackageRequest) (*types.Stats, error) {
	return t.conn.call(ctx, uuid.New().String(), req)
}

func (t *processTransport) close() error {
	// Ask politely first; the wait reaps the child either way
	_ = t.conn.shutdown()
	if err := t.cmd.Wait(); err != nil {
		_ = t.cmd.Process.Kill()
		return err
	}
	return nil
}
