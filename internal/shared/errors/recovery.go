package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
)

// As and Is re-export the standard helpers so callers need one import
var (
	As = stderrors.As
	Is = stderrors.Is
)

// Guard runs fn and converts a panic into an internal DepError
func Guard(unit string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewPanic(unit, r)
		}
	}()
	return fn()
}

// Collector is a goroutine-safe, append-only list of human-readable errors.
// Every entry gets the collector's prefix.
type Collector struct {
	mu     sync.Mutex
	prefix string
	items  []string
}

// NewCollector creates a collector with an optional prefix
func NewCollector(prefix string) *Collector {
	return &Collector{prefix: prefix}
}

// Add records err unless it is nil or of a silent type
func (c *Collector) Add(err error) {
	if err == nil {
		return
	}
	var de *DepError
	if As(err, &de) && !de.Type.Reportable() {
		return
	}
	c.AddString(err.Error())
}

// Addf records a formatted message
func (c *Collector) Addf(format string, args ...interface{}) {
	c.AddString(fmt.Sprintf(format, args...))
}

// AddString records msg as-is
func (c *Collector) AddString(msg string) {
	if msg == "" {
		return
	}
	c.mu.Lock()
	c.items = append(c.items, c.prefix+msg)
	c.mu.Unlock()
}

// AddAll records every message in msgs
func (c *Collector) AddAll(msgs []string) {
	for _, m := range msgs {
		c.AddString(m)
	}
}

// Len returns the number of recorded errors
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Errors returns a copy of the recorded errors, never nil
func (c *Collector) Errors() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.items))
	copy(out, c.items)
	return out
}

// Sorted returns the recorded errors in lexical order
func (c *Collector) Sorted() []string {
	out := c.Errors()
	sort.Strings(out)
	return out
}
