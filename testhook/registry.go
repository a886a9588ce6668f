package testhook

import (
	"fmt"
	"reflect"
	"runtime/debug"
	"sync"
	"time"
)

// KV is a small bag of diagnostic key/value pairs attached to a registry
// event, such as the iterator's prefix or the transaction's type.
type KV map[string]interface{}

// RegistryEntry records what a Registry knows about one live object.
type RegistryEntry struct {
	Stamp time.Time
	Stack string
	Data  KV
	Error error
}

// Registry tracks the lifecycle of objects of a single type: when they were
// created/opened, and whether they were later closed/destroyed. It exists so
// tests can assert that every iterator or transaction they obtained was
// eventually released, instead of relying on finalizers or leak detectors.
type Registry interface {
	Created(o interface{}, kv KV) error
	Opened(o interface{}, kv KV) error
	Closed(o interface{}, kv KV) error
	Destroyed(o interface{}, kv KV) error
	Seen(o interface{}, kv KV) error
	// Live returns the entries for objects that were created/opened but
	// never closed/destroyed, keyed by pointer address.
	Live() (map[uintptr]RegistryEntry, error)
}

// RegistryHook is called on every event a SimpleRegistry records; it can
// return an error to fail the check immediately (for example, "closed
// twice").
type RegistryHook func(event string, o interface{}, kv KV) error

// RegistryHooks maps a concrete object type to the hook that should be
// consulted for events on objects of that type.
type RegistryHooks map[reflect.Type]RegistryHook

// NopRegistry discards everything; it is the Registry a NopAuditor hands out.
type NopRegistry struct{}

func NewNopRegistry() *NopRegistry { return &NopRegistry{} }

func (*NopRegistry) Created(interface{}, KV) error   { return nil }
func (*NopRegistry) Opened(interface{}, KV) error     { return nil }
func (*NopRegistry) Closed(interface{}, KV) error     { return nil }
func (*NopRegistry) Destroyed(interface{}, KV) error  { return nil }
func (*NopRegistry) Seen(interface{}, KV) error       { return nil }
func (*NopRegistry) Live() (map[uintptr]RegistryEntry, error) {
	return nil, nil
}

// SimpleRegistry is a Registry backed by a map from pointer address to
// RegistryEntry, guarded by a mutex. It is what VerifyCloseAuditor uses.
type SimpleRegistry struct {
	mu    sync.Mutex
	live  map[uintptr]RegistryEntry
	hook  RegistryHook
}

func NewSimpleRegistry(hook RegistryHook) *SimpleRegistry {
	return &SimpleRegistry{live: map[uintptr]RegistryEntry{}, hook: hook}
}

func addr(o interface{}) uintptr {
	return reflect.ValueOf(o).Pointer()
}

func (r *SimpleRegistry) record(event string, o interface{}, kv KV) error {
	if r.hook != nil {
		if err := r.hook(event, o, kv); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	switch event {
	case "created", "opened":
		r.live[addr(o)] = RegistryEntry{
			Stamp: time.Now(),
			Stack: string(debug.Stack()),
			Data:  kv,
		}
	case "closed", "destroyed":
		if _, ok := r.live[addr(o)]; !ok {
			return fmt.Errorf("testhook: %s of untracked object %T", event, o)
		}
		delete(r.live, addr(o))
	}
	return nil
}

func (r *SimpleRegistry) Created(o interface{}, kv KV) error   { return r.record("created", o, kv) }
func (r *SimpleRegistry) Opened(o interface{}, kv KV) error    { return r.record("opened", o, kv) }
func (r *SimpleRegistry) Closed(o interface{}, kv KV) error    { return r.record("closed", o, kv) }
func (r *SimpleRegistry) Destroyed(o interface{}, kv KV) error { return r.record("destroyed", o, kv) }
func (r *SimpleRegistry) Seen(o interface{}, kv KV) error      { return r.record("seen", o, kv) }

func (r *SimpleRegistry) Live() (map[uintptr]RegistryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[uintptr]RegistryEntry, len(r.live))
	for k, v := range r.live {
		out[k] = v
	}
	return out, nil
}
