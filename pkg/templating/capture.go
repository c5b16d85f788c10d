package templating

import (
	"bytes"
	"sync/atomic"
)

// captureStack holds the open capture regions of one top-level render and
// everything it renders in turn. Regions are strictly LIFO.
type captureStack struct {
	regions []*bytes.Buffer
	active  *atomic.Int64
}

func newCaptureStack(active *atomic.Int64) *captureStack {
	return &captureStack{active: active}
}

// push opens a new region and returns the buffer output should go to.
func (c *captureStack) push() *bytes.Buffer {
	buf := &bytes.Buffer{}
	c.regions = append(c.regions, buf)
	c.active.Add(1)
	return buf
}

// pop closes the innermost region and returns what was captured in it.
func (c *captureStack) pop() string {
	n := len(c.regions)
	if n == 0 {
		return ""
	}
	buf := c.regions[n-1]
	c.regions[n-1] = nil
	c.regions = c.regions[:n-1]
	c.active.Add(-1)
	return buf.String()
}

func (c *captureStack) depth() int {
	return len(c.regions)
}
