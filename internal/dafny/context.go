package dafny

// context.go holds the request queue, the active slot, and the caches a
// session accumulates across verifier restarts.

import "sync"

// Context is the supervisor's bookkeeping. All methods are safe for
// concurrent use; only the supervisor promotes or completes requests.
type Context struct {
	mu sync.Mutex

	queue  []*Request
	active *Request

	pid     int
	version string

	symbols map[string]*SymbolTable
	results map[string]*VerifyResponse
}

func NewContext() *Context {
	return &Context{
		symbols: make(map[string]*SymbolTable),
		results: make(map[string]*VerifyResponse),
	}
}

// push appends req unless admit refuses it. admit runs under the lock so a
// concurrent drain cannot miss the request.
func (c *Context) push(req *Request, admit func() error) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if admit != nil {
		if err := admit(); err != nil {
			return len(c.queue), err
		}
	}
	c.queue = append(c.queue, req)
	return len(c.queue), nil
}

// promote moves the queue head into the empty active slot.
func (c *Context) promote() (*Request, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil || len(c.queue) == 0 {
		return nil, false
	}
	req := c.queue[0]
	c.queue[0] = nil
	c.queue = c.queue[1:]
	c.active = req
	return req, true
}

// takeActive clears the active slot and returns what was in it.
func (c *Context) takeActive() *Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	req := c.active
	c.active = nil
	return req
}

// drainQueue empties the queue, leaving the active slot alone.
func (c *Context) drainQueue() []*Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	q := c.queue
	c.queue = nil
	return q
}

// reset empties both the active slot and the queue.
func (c *Context) reset() (*Request, []*Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	active, q := c.active, c.queue
	c.active, c.queue = nil, nil
	return active, q
}

// Active returns the in-flight request, if any.
func (c *Context) Active() *Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Context) QueueSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Pending returns the URIs of queued requests in dispatch order.
func (c *Context) Pending() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	uris := make([]string, len(c.queue))
	for i, r := range c.queue {
		uris[i] = r.URI
	}
	return uris
}

func (c *Context) Pid() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pid
}

func (c *Context) setPid(pid int) {
	c.mu.Lock()
	c.pid = pid
	c.mu.Unlock()
}

func (c *Context) Version() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

func (c *Context) setVersion(v string) {
	c.mu.Lock()
	c.version = v
	c.mu.Unlock()
}

// Symbols returns the cached table for uri, or nil.
func (c *Context) Symbols(uri string) *SymbolTable {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.symbols[uri]
}

func (c *Context) storeSymbols(t *SymbolTable) {
	c.mu.Lock()
	c.symbols[t.URI] = t
	c.mu.Unlock()
}

// Result returns the last verification response for uri, or nil.
func (c *Context) Result(uri string) *VerifyResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.results[uri]
}

func (c *Context) storeResult(r *VerifyResponse) {
	c.mu.Lock()
	c.results[r.URI] = r
	c.mu.Unlock()
}

// Forget drops cached state for a closed document.
func (c *Context) Forget(uri string) {
	c.mu.Lock()
	delete(c.symbols, uri)
	delete(c.results, uri)
	c.mu.Unlock()
}

// Results returns the last verification result of every known document.
func (c *Context) Results() map[string]VerificationResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]VerificationResult, len(c.results))
	for uri, r := range c.results {
		out[uri] = r.Result
	}
	return out
}
