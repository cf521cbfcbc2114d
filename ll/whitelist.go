package ll

import (
	"fmt"
	"io/ioutil"
	"os"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"github.com/edgeble/llc"
)

// WhitelistEntry is one allow-listed peer.
type WhitelistEntry struct {
	Addr     [6]byte `json:"addr"`
	AddrType uint8   `json:"addr_type"`
}

// Whitelist is the bounded peer allow-list used by the advertising,
// scanning and initiating filter policies. Match runs on the packet
// receive fast path; mutations happen in task context and are refused
// while a filter policy depends on the list.
type Whitelist struct {
	mu      sync.RWMutex
	entries []WhitelistEntry
	cap     int

	// busy reports whether some state machine currently evaluates
	// filter policies against the list.
	busy func() bool
}

const defaultWhitelistSize = 8

func NewWhitelist(capacity int, busy func() bool) *Whitelist {
	if capacity <= 0 {
		capacity = defaultWhitelistSize
	}
	return &Whitelist{cap: capacity, busy: busy}
}

// Size returns the entry capacity.
func (w *Whitelist) Size() int { return w.cap }

// Match reports whether an equal (address, type) pair is listed.
func (w *Whitelist) Match(addr [6]byte, addrType uint8) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, e := range w.entries {
		if e.AddrType == addrType && e.Addr == addr {
			return true
		}
	}
	return false
}

// Add appends an entry. Duplicates succeed without growing the list.
func (w *Whitelist) Add(addr [6]byte, addrType uint8) llc.Status {
	if w.busy != nil && w.busy() {
		return llc.ErrCommandDisallowed
	}
	if addrType > AddrTypeRandom {
		return llc.ErrInvalidParams
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, e := range w.entries {
		if e.AddrType == addrType && e.Addr == addr {
			return llc.StatusSuccess
		}
	}
	if len(w.entries) >= w.cap {
		return llc.ErrMemCapacity
	}
	w.entries = append(w.entries, WhitelistEntry{Addr: addr, AddrType: addrType})
	return llc.StatusSuccess
}

// Remove drops an entry; removing a missing entry succeeds.
func (w *Whitelist) Remove(addr [6]byte, addrType uint8) llc.Status {
	if w.busy != nil && w.busy() {
		return llc.ErrCommandDisallowed
	}
	if addrType > AddrTypeRandom {
		return llc.ErrInvalidParams
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, e := range w.entries {
		if e.AddrType == addrType && e.Addr == addr {
			w.entries = append(w.entries[:i], w.entries[i+1:]...)
			break
		}
	}
	return llc.StatusSuccess
}

// Clear empties the list.
func (w *Whitelist) Clear() llc.Status {
	if w.busy != nil && w.busy() {
		return llc.ErrCommandDisallowed
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = w.entries[:0]
	return llc.StatusSuccess
}

// Store persists the list to a JSON file so a restarted controller can
// come back with the same filter set.
func (w *Whitelist) Store(filename string) error {
	w.mu.RLock()
	entries := append([]WhitelistEntry(nil), w.entries...)
	w.mu.RUnlock()

	out, err := jsoniter.Marshal(entries)
	if err != nil {
		return err
	}
	return ioutil.WriteFile(filename, out, 0644)
}

// Load replaces the list with the persisted one. Loading while a
// filter policy uses the list is refused, like any other mutation.
func (w *Whitelist) Load(filename string) error {
	if w.busy != nil && w.busy() {
		return llc.ErrCommandDisallowed
	}
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return fmt.Errorf("whitelist file %s not found", filename)
	}

	in, err := ioutil.ReadFile(filename)
	if err != nil {
		return err
	}
	var entries []WhitelistEntry
	if err := jsoniter.Unmarshal(in, &entries); err != nil {
		return err
	}
	if len(entries) > w.cap {
		entries = entries[:w.cap]
	}

	w.mu.Lock()
	w.entries = entries
	w.mu.Unlock()
	return nil
}
