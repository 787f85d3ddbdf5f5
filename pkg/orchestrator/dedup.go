package orchestrator

import (
	"encoding/json"
	"sync"

	"github.com/harun/toolflow/pkg/toolcall"
	"golang.org/x/sync/singleflight"
)

// dedupEntry is the terminal snapshot of the call that actually ran
type dedupEntry struct {
	leader   *toolcall.ToolCall
	snapshot toolcall.ToolCall
}

// dedupGroup collapses identical (name, arguments) calls within one request.
// The first call to arrive runs; concurrent or later duplicates copy its
// terminal outcome.
type dedupGroup struct {
	group   singleflight.Group
	mu      sync.Mutex
	entries map[string]*dedupEntry
}

func newDedupGroup() *dedupGroup {
	return &dedupGroup{entries: make(map[string]*dedupEntry)}
}

// dedupKey returns the identity of a call. Arguments that cannot be encoded
// disable deduplication for that call.
func dedupKey(call *toolcall.ToolCall) (string, bool) {
	// encoding/json sorts map keys, so equal maps encode identically
	args, err := json.Marshal(call.Arguments)
	if err != nil {
		return "", false
	}
	return call.Name + "\x00" + string(args), true
}

// Do runs execute for call unless an identical call already ran or is running
func (d *dedupGroup) Do(call *toolcall.ToolCall, execute func(*toolcall.ToolCall)) {
	key, ok := dedupKey(call)
	if !ok {
		execute(call)
		return
	}

	if entry, found := d.get(key); found {
		d.follow(call, entry)
		return
	}

	v, _, _ := d.group.Do(key, func() (interface{}, error) {
		// a leader may have finished between get and Do
		if entry, found := d.get(key); found {
			return entry, nil
		}

		execute(call)

		entry := &dedupEntry{leader: call, snapshot: *call}
		d.mu.Lock()
		d.entries[key] = entry
		d.mu.Unlock()
		return entry, nil
	})

	entry := v.(*dedupEntry)
	if entry.leader != call {
		d.follow(call, entry)
	}
}

// Size returns the number of distinct calls that have completed
func (d *dedupGroup) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

func (d *dedupGroup) get(key string) (*dedupEntry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.entries[key]
	return entry, ok
}

func (d *dedupGroup) follow(call *toolcall.ToolCall, entry *dedupEntry) {
	call.CopyOutcome(&entry.snapshot)
	call.Deduplicated = true
}
