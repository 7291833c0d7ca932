package callback

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/danmuck/urbilink/internal/protocol"
)

var (
	ErrNilHandler      = errors.New("callback: nil handler")
	ErrReservedTag     = errors.New("callback: reserved tag")
	ErrUnknownCallback = errors.New("callback: unknown callback id")
)

// ID identifies one registration. InvalidID is never handed out.
type ID uint32

const InvalidID ID = 0

const uniqueTagPrefix = protocol.ReservedPrefix + "U"

type entry struct {
	id      ID
	tag     string
	handler Handler
	removed bool
}

// Registry maps tags to ordered listener lists. Its mutex is the receive
// list exclusion domain; it is never held while a handler runs, so
// handlers may register, unregister or send.
type Registry struct {
	mu      sync.Mutex
	entries []*entry
	byID    map[ID]*entry
	nextID  ID
	uid     uint64
}

func NewRegistry() *Registry {
	return &Registry{
		byID: make(map[ID]*entry),
	}
}

// Register appends a listener for tag. Several listeners may share a tag.
func (r *Registry) Register(tag string, h Handler) (ID, error) {
	if err := protocol.ValidateTag(tag); err != nil {
		return InvalidID, err
	}
	if protocol.IsReservedTag(tag) && !r.minted(tag) {
		return InvalidID, fmt.Errorf("%w: %q", ErrReservedTag, tag)
	}
	return r.add(tag, h)
}

// RegisterWildcard adds a listener invoked for every server message.
func (r *Registry) RegisterWildcard(h Handler) (ID, error) {
	return r.add(protocol.WildcardTag, h)
}

// RegisterError adds a listener invoked for every !!! message.
func (r *Registry) RegisterError(h Handler) (ID, error) {
	return r.add(protocol.ErrorTag, h)
}

// RegisterClientError adds a listener for locally generated failures.
func (r *Registry) RegisterClientError(h Handler) (ID, error) {
	return r.add(protocol.ClientErrorTag, h)
}

// RegisterInternal registers on an engine-owned tag without the reserved
// namespace check. Used by the client for keepalive replies.
func (r *Registry) RegisterInternal(tag string, h Handler) (ID, error) {
	if err := protocol.ValidateTag(tag); err != nil {
		return InvalidID, err
	}
	return r.add(tag, h)
}

func (r *Registry) add(tag string, h Handler) (ID, error) {
	if isNil(h) {
		return InvalidID, ErrNilHandler
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	if r.nextID == InvalidID {
		r.nextID++
	}
	e := &entry{id: r.nextID, tag: tag, handler: h}
	r.entries = append(r.entries, e)
	r.byID[e.id] = e
	return e.id, nil
}

// isNil also catches typed nils such as HandlerFunc(nil), which would
// panic on dispatch.
func isNil(h Handler) bool {
	if h == nil {
		return true
	}
	v := reflect.ValueOf(h)
	switch v.Kind() {
	case reflect.Func, reflect.Pointer, reflect.Map, reflect.Chan, reflect.Slice, reflect.Interface:
		return v.IsNil()
	}
	return false
}

// Unregister removes exactly one registration. Unknown or already removed
// ids report ErrUnknownCallback.
func (r *Registry) Unregister(id ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.removeLocked(id) {
		return fmt.Errorf("%w: %d", ErrUnknownCallback, id)
	}
	return nil
}

func (r *Registry) removeLocked(id ID) bool {
	e, ok := r.byID[id]
	if !ok {
		return false
	}
	e.removed = true
	delete(r.byID, id)
	for i, cur := range r.entries {
		if cur == e {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			break
		}
	}
	return true
}

// AssociatedTag returns the tag a registration listens on.
func (r *Registry) AssociatedTag(id ID) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	if !ok {
		return "", false
	}
	return e.tag, true
}

// MakeUniqueTag returns a tag no other caller of this registry has seen.
// Minted tags live in the reserved namespace so applications cannot
// collide with them.
func (r *Registry) MakeUniqueTag() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.uid++
	return uniqueTagPrefix + strconv.FormatUint(r.uid, 10)
}

func (r *Registry) minted(tag string) bool {
	raw, ok := strings.CutPrefix(tag, uniqueTagPrefix)
	if !ok {
		return false
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || strconv.FormatUint(n, 10) != raw {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return n >= 1 && n <= r.uid
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Clear drops every registration.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		e.removed = true
	}
	r.entries = nil
	r.byID = make(map[ID]*entry)
}

// Dispatch delivers msg to every matching registration in insertion order
// and returns the number of deliveries. Registrations added during
// dispatch see the next message; registrations removed during dispatch
// are skipped; a handler returning Remove is deleted before the next
// delivery.
func (r *Registry) Dispatch(msg protocol.Message) int {
	r.mu.Lock()
	snapshot := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		if matches(e.tag, msg) {
			snapshot = append(snapshot, e)
		}
	}
	r.mu.Unlock()

	delivered := 0
	for _, e := range snapshot {
		r.mu.Lock()
		skip := e.removed
		r.mu.Unlock()
		if skip {
			continue
		}
		delivered++
		if e.handler.Handle(msg) == Remove {
			r.mu.Lock()
			r.removeLocked(e.id)
			r.mu.Unlock()
		}
	}
	return delivered
}

func matches(tag string, msg protocol.Message) bool {
	if msg.Kind == protocol.KindClientError {
		return tag == protocol.ClientErrorTag
	}
	switch tag {
	case protocol.WildcardTag:
		return true
	case protocol.ErrorTag:
		return msg.Kind == protocol.KindError
	case protocol.ClientErrorTag:
		return false
	}
	return tag == msg.Tag
}
