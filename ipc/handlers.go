package ipc

import "sync"

// HandlerFunc processes the payload of a delivered message.
type HandlerFunc func(src uint8, payload []byte)

// GetHandlerFunc answers a get() request with a response payload.
type GetHandlerFunc func(src uint8, payload []byte) []byte

// CleanerFunc runs once, at worker shutdown, registered via
// register_cleaner (spec.md's original_source/ supplement beyond the
// distilled spec.md §6 surface).
type CleanerFunc func()

// interestBitmap is a fixed 256-bit set, one bit per message id, tracking
// which ids a worker has registered a handler for. It lets a sender skip
// workers known not to care about an id (spec.md §4.F) without needing a
// probabilistic structure: membership here must be exact, which is why
// this is a plain bitset rather than the bits-and-blooms filter used
// elsewhere in the example corpus — see DESIGN.md.
type interestBitmap [4]uint64 // 4*64 = 256 bits

func (b *interestBitmap) set(id uint8) {
	b[id/64] |= 1 << (id % 64)
}

func (b *interestBitmap) has(id uint8) bool {
	return b[id/64]&(1<<(id%64)) != 0
}

// HandlerTable is the 256-slot dispatch table a worker consults when a
// frame arrives (spec.md §4.F: "The handler for id is looked up in a
// 256-slot table; if unset, the message is discarded after draining its
// body").
type HandlerTable struct {
	mu       sync.RWMutex
	handlers [256]HandlerFunc
	getters  [256]GetHandlerFunc
	cleaners []CleanerFunc
	interest interestBitmap
}

// NewHandlerTable returns an empty HandlerTable.
func NewHandlerTable() *HandlerTable {
	return &HandlerTable{}
}

// RegisterHandler installs fn for id, overwriting any previous handler.
func (t *HandlerTable) RegisterHandler(id uint8, fn HandlerFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[id] = fn
	t.interest.set(id)
}

// RegisterGetHandler installs fn to answer get() requests for id.
func (t *HandlerTable) RegisterGetHandler(id uint8, fn GetHandlerFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.getters[id] = fn
	t.interest.set(id)
}

// RegisterCleaner appends fn to the list run by RunCleaners at shutdown.
func (t *HandlerTable) RegisterCleaner(fn CleanerFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cleaners = append(t.cleaners, fn)
}

// Dispatch looks up and invokes the handler for f.ID, discarding the
// frame silently if none is registered.
func (t *HandlerTable) Dispatch(f Frame) {
	t.mu.RLock()
	h := t.handlers[f.ID]
	t.mu.RUnlock()
	if h != nil {
		h(f.Src, f.Payload)
	}
}

// DispatchGet looks up the get-handler for f.ID and returns its
// response, or nil if none is registered.
func (t *HandlerTable) DispatchGet(f Frame) []byte {
	t.mu.RLock()
	g := t.getters[f.ID]
	t.mu.RUnlock()
	if g == nil {
		return nil
	}
	return g(f.Src, f.Payload)
}

// Interested reports whether this worker has registered any handler for
// id, letting a sender skip workers that would just discard the frame.
func (t *HandlerTable) Interested(id uint8) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.interest.has(id)
}

// RunCleaners invokes every registered cleaner, in registration order.
func (t *HandlerTable) RunCleaners() {
	t.mu.RLock()
	cleaners := append([]CleanerFunc(nil), t.cleaners...)
	t.mu.RUnlock()
	for _, c := range cleaners {
		c()
	}
}
