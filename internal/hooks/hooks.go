// Package hooks is the sequential, registration-ordered event dispatcher
// a harness adapter invokes at fixed points during task execution.
package hooks

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
)

// Event names one of the six points a harness adapter invokes hooks at.
type Event string

const (
	PreTask     Event = "PRE_TASK"
	OnMessage   Event = "ON_MESSAGE"
	PostTask    Event = "POST_TASK"
	OnError     Event = "ON_ERROR"
	PreToolUse  Event = "PRE_TOOL_USE"
	PostToolUse Event = "POST_TOOL_USE"
)

// shellOutInactiveEvents are accepted for registration on a CLI shell-out
// adapter but never actually fire, since that adapter has no visibility
// into individual tool calls.
var shellOutInactiveEvents = map[Event]bool{
	PreToolUse:  true,
	PostToolUse: true,
}

// Context is passed to every handler; its fields are populated by the
// caller according to which Event is firing.
type Context struct {
	Event     Event
	SessionID string
	TaskID    string
	Message   string
	ToolName  string
	ToolInput any
	Err       error
}

// Result is a handler's verdict. Block stops dispatch for this
// invocation; Reason is surfaced to the caller (and, for PRE_TASK,
// becomes the failing TaskResult's error text).
type Result struct {
	Block  bool
	Reason string
}

// Handler is one registered hook function.
type Handler func(ctx context.Context, hctx Context) Result

type registration struct {
	id      uint64
	handler Handler
}

// Registry holds the ordered handler list per event and dispatches them
// sequentially, never concurrently, within one event invocation.
type Registry struct {
	mu            sync.Mutex
	handlers      map[Event][]registration
	nextID        uint64
	shellOutAware bool
}

// New constructs an empty Registry. shellOutAware, when true, emits a
// warning on registration for PRE_TOOL_USE/POST_TOOL_USE, since those
// events never fire against a CLI shell-out adapter.
func New(shellOutAware bool) *Registry {
	return &Registry{handlers: make(map[Event][]registration), shellOutAware: shellOutAware}
}

// HandlerRef identifies a registered handler for Unregister.
type HandlerRef uint64

// Register appends handler to event's list and returns a reference
// usable with Unregister.
func (r *Registry) Register(event Event, handler Handler) HandlerRef {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.shellOutAware && shellOutInactiveEvents[event] {
		log.Warn("registering hook for an event inactive on shell-out adapters", "event", event)
	}

	r.nextID++
	id := r.nextID
	r.handlers[event] = append(r.handlers[event], registration{id: id, handler: handler})
	return HandlerRef(id)
}

// Unregister removes the handler identified by ref, returning whether it
// was found.
func (r *Registry) Unregister(event Event, ref HandlerRef) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.handlers[event]
	for i, reg := range list {
		if reg.id == uint64(ref) {
			r.handlers[event] = append(list[:i], list[i+1:]...)
			return true
		}
	}
	return false
}

// Clear removes all handlers for event, or every handler for every event
// when event is the empty string.
func (r *Registry) Clear(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if event == "" {
		r.handlers = make(map[Event][]registration)
		return
	}
	delete(r.handlers, event)
}

// Dispatch invokes every handler registered for hctx.Event in
// registration order. A handler that returns Block stops dispatch
// immediately and that result is returned. A handler that panics is
// logged and treated as non-blocking, so one misbehaving handler cannot
// prevent the rest of the chain (or the caller) from proceeding.
func (r *Registry) Dispatch(ctx context.Context, hctx Context) Result {
	r.mu.Lock()
	list := append([]registration(nil), r.handlers[hctx.Event]...)
	r.mu.Unlock()

	for _, reg := range list {
		result := invokeShielded(ctx, reg.handler, hctx)
		if result.Block {
			return result
		}
	}
	return Result{}
}

func invokeShielded(ctx context.Context, handler Handler, hctx Context) (result Result) {
	defer func() {
		if p := recover(); p != nil {
			log.Error("hook handler panicked", "event", hctx.Event, "panic", fmt.Sprint(p))
			result = Result{}
		}
	}()
	return handler(ctx, hctx)
}
