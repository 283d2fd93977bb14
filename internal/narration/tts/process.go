package tts

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"

	"github.com/sirupsen/logrus"
)

// processRunner speaks by running one external command per utterance, the
// way the command-line engines do. It keeps every running command so Stop
// can interrupt them all.
type processRunner struct {
	name    string
	mutex   sync.Mutex
	running map[*exec.Cmd]*Handle
}

func newProcessRunner(name string) processRunner {
	return processRunner{
		name:    name,
		running: make(map[*exec.Cmd]*Handle),
	}
}

// start launches the command and returns a handle that completes when the
// process exits.
func (p *processRunner) start(ctx context.Context, path string, args ...string) (*Handle, error) {
	cmd := exec.CommandContext(ctx, path, args...)

	handle := NewHandle(func() {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	})

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", p.name, err)
	}
	p.running[cmd] = handle
	handle.MarkStarted()

	// Start speaking in background
	go func() {
		err := cmd.Wait()

		p.mutex.Lock()
		delete(p.running, cmd)
		p.mutex.Unlock()

		var exitErr *exec.ExitError
		if err != nil && errors.As(err, &exitErr) && ctx.Err() == nil {
			logrus.WithFields(logrus.Fields{
				"engine": p.name,
				"code":   exitErr.ExitCode(),
			}).Warn("speech process exited with error")
		}
		handle.Finish(err)
	}()

	return handle, nil
}

// stopAll kills every running speech process.
func (p *processRunner) stopAll() error {
	p.mutex.Lock()
	handles := make([]*Handle, 0, len(p.running))
	for _, h := range p.running {
		handles = append(handles, h)
	}
	p.mutex.Unlock()

	for _, h := range handles {
		h.Cancel()
	}
	return nil
}
