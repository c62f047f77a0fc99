package engine

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/nOOne-is-hier/AgentFlow/pkg/api"
	"github.com/tidwall/gjson"
)

// Outputs accumulates node results over the course of a run. Each node's
// result is stored under both its bare key and a node-qualified
// "{nodeId}.{key}" alias, so later nodes can reference either form
type Outputs struct {
	sync.RWMutex
	values map[string]any
}

func NewOutputs() *Outputs {
	return &Outputs{
		values: map[string]any{},
	}
}

// Merge records a node's result map. Bare keys written by a later node
// overwrite earlier ones; the qualified aliases never collide
func (o *Outputs) Merge(nodeID api.NodeID, out map[string]any) {
	o.Lock()
	defer o.Unlock()
	for k, v := range out {
		o.values[k] = v
		o.values[string(nodeID)+"."+k] = v
	}
}

// Lookup resolves a reference against the accumulated outputs. Resolution
// tries three tiers in order: an exact key match, the final dot segment of
// the reference, and a nested path traversal through structured values
func (o *Outputs) Lookup(key string) (any, bool) {
	o.RLock()
	defer o.RUnlock()

	if v, ok := o.values[key]; ok {
		return v, true
	}
	if i := strings.LastIndexByte(key, '.'); i >= 0 {
		if v, ok := o.values[key[i+1:]]; ok {
			return v, true
		}
	}
	return o.dig(key)
}

// dig walks a dotted path into structured values via their JSON form.
// Caller holds at least the read lock
func (o *Outputs) dig(key string) (any, bool) {
	if !strings.ContainsRune(key, '.') {
		return nil, false
	}
	raw, err := json.Marshal(o.values)
	if err != nil {
		return nil, false
	}
	r := gjson.GetBytes(raw, key)
	if !r.Exists() {
		return nil, false
	}
	return r.Value(), true
}

// Snapshot returns a shallow copy of the current output map
func (o *Outputs) Snapshot() map[string]any {
	o.RLock()
	defer o.RUnlock()
	res := make(map[string]any, len(o.values))
	for k, v := range o.values {
		res[k] = v
	}
	return res
}

// Get returns the exact-key value without tiered resolution
func (o *Outputs) Get(key string) (any, bool) {
	o.RLock()
	defer o.RUnlock()
	v, ok := o.values[key]
	return v, ok
}
