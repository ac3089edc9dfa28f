package main

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	errRoleConflict = errors.New("connection already declared a different role")
	errUnknownRole  = errors.New("unknown role")
)

// roleChangePolicy decides what happens when a connection that already
// declared one role declares the other.
type roleChangePolicy int

const (
	// roleChangeReject keeps the first role and refuses the new one.
	roleChangeReject roleChangePolicy = iota
	// roleChangeReplace moves the connection to the newly declared role.
	roleChangeReplace
)

func (p roleChangePolicy) String() string {
	if p == roleChangeReplace {
		return "replace"
	}
	return "reject"
}

// Set implements flag.Value.
func (p *roleChangePolicy) Set(s string) error {
	switch strings.ToLower(s) {
	case "reject":
		*p = roleChangeReject
	case "replace":
		*p = roleChangeReplace
	default:
		return fmt.Errorf("role change policy %q: want reject or replace", s)
	}
	return nil
}

type connections map[*connection]interface {
}

// registry holds the extension and bot connection sets. A connection is in
// at most one of them, and only while it is open.
type registry struct {
	mu         sync.RWMutex // Protects both sets and connection.role
	extensions connections
	bots       connections
	policy     roleChangePolicy
}

func newRegistry(policy roleChangePolicy) *registry {
	return &registry{
		extensions: make(connections),
		bots:       make(connections),
		policy:     policy,
	}
}

func (r *registry) set(ro role) connections {
	switch ro {
	case roleExtension:
		return r.extensions
	case roleBot:
		return r.bots
	}
	return nil
}

// register adds c to the set for ro. Declaring the same role again is a
// no-op; declaring a different one follows the registry's policy.
func (r *registry) register(c *connection, ro role) error {
	set := r.set(ro)
	if set == nil {
		return fmt.Errorf("register %s: %w", ro, errUnknownRole)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Checked under the lock so a register racing with teardown cannot
	// leave a closed connection behind.
	if !c.isOpen() {
		return errConnClosed
	}
	switch c.role {
	case roleUnassigned:
	case ro:
		return nil
	default:
		if r.policy == roleChangeReject {
			incr("role.conflicts", 1)
			return fmt.Errorf("%w: %s, refused %s", errRoleConflict, c.role, ro)
		}
		delete(r.set(c.role), c)
	}
	c.role = ro
	set[c] = nil
	r.updateGauges()
	return nil
}

// unregister removes c from whichever set holds it. Safe to call any
// number of times, registered or not.
func (r *registry) unregister(c *connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.extensions, c)
	delete(r.bots, c)
	r.updateGauges()
}

// snapshot copies the members of ro's set.
func (r *registry) snapshot(ro role) []*connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.set(ro)
	out := make([]*connection, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// broadcast queues payload on every open connection of role ro and returns
// how many accepted it. The lock is only held while taking the snapshot.
func (r *registry) broadcast(ro role, payload []byte) int {
	sent := 0
	for _, c := range r.snapshot(ro) {
		if !c.isOpen() {
			continue
		}
		if err := c.enqueue(payload); err != nil {
			mark("drops", 1)
			c.log.Debug().Err(err).Msg("broadcast skipped recipient")
			continue
		}
		sent++
	}
	return sent
}

func (r *registry) roleOf(c *connection) role {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return c.role
}

func (r *registry) counts() (extensions, bots int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.extensions), len(r.bots)
}

// Caller holds r.mu.
func (r *registry) updateGauges() {
	gauge("extensions", int64(len(r.extensions)))
	gauge("bots", int64(len(r.bots)))
}
