// Package compute runs kernels on a single owning goroutine. Every dispatch,
// allocation and buffer mapping happens there; other goroutines submit work
// with Context.Run and block until it has executed.
package compute

import (
	"errors"
	"fmt"
	"log"
	"sync"
)

// ErrClosed is returned for requests submitted after Close.
var ErrClosed = errors.New("compute: context closed")

const requestQueueDepth = 64

type request struct {
	run   func(*Session) error
	reply chan error
}

// Context owns a KernelSet, a Backend and every Buffer allocated through it.
type Context struct {
	kernels *KernelSet
	backend Backend

	mu       sync.RWMutex
	closed   bool
	requests chan request
	done     chan struct{}

	countMu    sync.Mutex
	dispatches map[KernelID]int

	// owner goroutine only
	live map[*Buffer]struct{}
}

// NewContext starts the owning goroutine.
func NewContext(kernels *KernelSet, backend Backend) *Context {
	c := &Context{
		kernels:    kernels,
		backend:    backend,
		requests:   make(chan request, requestQueueDepth),
		done:       make(chan struct{}),
		dispatches: make(map[KernelID]int),
		live:       make(map[*Buffer]struct{}),
	}
	go c.loop()
	return c
}

// Backend reports the backend executing launches.
func (c *Context) Backend() Backend { return c.backend }

// Run queues fn for the owning goroutine and blocks until it returns. Requests
// execute one at a time in submission order. fn must use the Session it is
// given; calling Run from inside fn deadlocks.
func (c *Context) Run(fn func(*Session) error) error {
	reply := make(chan error, 1)
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return ErrClosed
	}
	c.requests <- request{run: fn, reply: reply}
	c.mu.RUnlock()
	return <-reply
}

// Close drains queued requests, releases every live buffer, closes the backend
// and stops the owning goroutine.
func (c *Context) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		<-c.done
		return
	}
	c.closed = true
	close(c.requests)
	c.mu.Unlock()
	<-c.done
}

// Dispatches reports how many launches of id have been issued so far.
func (c *Context) Dispatches(id KernelID) int {
	c.countMu.Lock()
	defer c.countMu.Unlock()
	return c.dispatches[id]
}

func (c *Context) countDispatch(id KernelID) {
	c.countMu.Lock()
	c.dispatches[id]++
	c.countMu.Unlock()
}

func (c *Context) loop() {
	defer close(c.done)
	s := &Session{ctx: c}
	for req := range c.requests {
		req.reply <- c.execute(s, req.run)
	}
	for b := range c.live {
		b.released = true
		b.data = nil
	}
	c.live = nil
	if c.backend != nil {
		c.backend.Close()
	}
}

func (c *Context) execute(s *Session, fn func(*Session) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("compute: request panicked: %v", r)
			err = fmt.Errorf("compute: request panicked: %v", r)
		}
	}()
	return fn(s)
}
