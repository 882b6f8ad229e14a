package topviews

import (
	"strings"
	"sync"
)

// Container holds the rendered nodes of the latest refresh in display order.
// Only the render pipeline writes to it.
type Container struct {
	mu         sync.RWMutex
	nodes      []*Node
	generation uint64
}

// Empty removes every node and starts a new generation.
func (c *Container) Empty() {
	c.mu.Lock()
	c.nodes = nil
	c.generation++
	c.mu.Unlock()
}

// Append adds nodes after the existing ones, preserving argument order.
func (c *Container) Append(nodes ...*Node) {
	c.mu.Lock()
	c.nodes = append(c.nodes, nodes...)
	c.mu.Unlock()
}

// Nodes returns a copy of the current nodes.
func (c *Container) Nodes() []*Node {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*Node(nil), c.nodes...)
}

// Len returns the number of nodes.
func (c *Container) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.nodes)
}

// Generation counts how many times the container has been emptied.
func (c *Container) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// HTML returns each node's markup in order.
func (c *Container) HTML() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.nodes))
	for i, n := range c.nodes {
		out[i] = n.HTML
	}
	return out
}

// String concatenates the markup of all nodes.
func (c *Container) String() string {
	return strings.Join(c.HTML(), "")
}
