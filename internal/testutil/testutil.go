// Package testutil provides shared test utilities and fixtures.
//
// Tracker hands out reference-counted payloads whose lifetimes can be
// asserted after a test, so ownership bugs in the sync engine surface as
// leaks or double releases rather than silent corruption.
package testutil

import (
	"fmt"
	"sync"
	"testing"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// Tracker creates payloads and records how many are still referenced.
type Tracker struct {
	mu       sync.Mutex
	payloads []*TrackedPayload
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// TrackedPayload is a reference-counted payload owned by a Tracker. It
// satisfies timesync.Payload.
type TrackedPayload struct {
	Label string

	tracker *Tracker
	refs    int
	freed   bool
}

// New returns a payload holding a single reference for the caller.
func (tr *Tracker) New(label string) *TrackedPayload {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	p := &TrackedPayload{Label: label, tracker: tr, refs: 1}
	tr.payloads = append(tr.payloads, p)
	return p
}

// Retain adds a reference.
func (p *TrackedPayload) Retain() {
	p.tracker.mu.Lock()
	defer p.tracker.mu.Unlock()
	if p.freed {
		panic(fmt.Sprintf("testutil: retain of freed payload %q", p.Label))
	}
	p.refs++
}

// Release drops a reference.
func (p *TrackedPayload) Release() {
	p.tracker.mu.Lock()
	defer p.tracker.mu.Unlock()
	if p.freed {
		panic(fmt.Sprintf("testutil: release of freed payload %q", p.Label))
	}
	p.refs--
	if p.refs == 0 {
		p.freed = true
	}
}

// Refs returns the current reference count.
func (p *TrackedPayload) Refs() int {
	p.tracker.mu.Lock()
	defer p.tracker.mu.Unlock()
	return p.refs
}

// Freed reports whether the last reference has been released.
func (p *TrackedPayload) Freed() bool {
	p.tracker.mu.Lock()
	defer p.tracker.mu.Unlock()
	return p.freed
}

// Live returns the labels of payloads that still hold references.
func (tr *Tracker) Live() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	var live []string
	for _, p := range tr.payloads {
		if !p.freed {
			live = append(live, p.Label)
		}
	}
	return live
}

// AssertAllReleased fails the test if any payload is still referenced.
func (tr *Tracker) AssertAllReleased(t testing.TB) {
	t.Helper()
	if live := tr.Live(); len(live) > 0 {
		t.Errorf("%d payloads still referenced: %v", len(live), live)
	}
}
