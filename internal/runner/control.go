package runner

import (
	"sync"
	"sync/atomic"
)

// control is the in-process handle of an executing run.
type control struct {
	cancel atomic.Bool
	done   chan struct{}
	err    error
}

type controls struct {
	mu   sync.Mutex
	runs map[string]*control
}

func (c *controls) add(runID string) (*control, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.runs[runID]; exists {
		return nil, false
	}
	ctl := &control{done: make(chan struct{})}
	c.runs[runID] = ctl
	return ctl, true
}

func (c *controls) get(runID string) (*control, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ctl, ok := c.runs[runID]
	return ctl, ok
}

func (c *controls) finish(runID string, ctl *control, err error) {
	c.mu.Lock()
	if c.runs[runID] == ctl {
		delete(c.runs, runID)
	}
	c.mu.Unlock()
	ctl.err = err
	close(ctl.done)
}

func (c *controls) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.runs)
}
