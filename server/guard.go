// Package server wraps a valgov.Lifecycle for the consensus engine. It
// orders the block calls, gates reads on the handshake and stops block
// processing for good once the application asks to halt.
package server

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/blockberries/valgov"
)

type phase uint32

const (
	phaseInit phase = iota
	phaseHandshaking
	phaseIdle
	phaseExecuting
	phaseExecuted // waiting for Commit
	phaseCommitting
	phaseHalted
)

var phaseNames = [...]string{
	phaseInit:        "init",
	phaseHandshaking: "handshaking",
	phaseIdle:        "idle",
	phaseExecuting:   "executing",
	phaseExecuted:    "executed",
	phaseCommitting:  "committing",
	phaseHalted:      "halted",
}

func (p phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("phase(%d)", uint32(p))
}

// LifecycleGuard orders the calls made into an application. Handshake
// comes first and may be retried until it succeeds. ExecuteBlock and
// Commit then alternate, one at a time. Reads are allowed from the
// first successful handshake on, also after a halt.
//
// Out-of-order calls are bugs in the caller and panic. A halt is not:
// once a block call fails with a valgov.HaltError, every later block
// call returns that error without reaching the application.
type LifecycleGuard struct {
	phase atomic.Uint32
	open  atomic.Bool
	halt  atomic.Pointer[valgov.HaltError]

	// Held from BeginExecute or BeginCommit until the matching End.
	blockMu sync.Mutex
}

// NewLifecycleGuard returns a guard waiting for the handshake.
func NewLifecycleGuard() *LifecycleGuard {
	return &LifecycleGuard{}
}

// Phase names the current phase.
func (g *LifecycleGuard) Phase() string {
	return g.current().String()
}

func (g *LifecycleGuard) current() phase {
	return phase(g.phase.Load())
}

func misuse(call string, got, want phase) {
	panic(fmt.Sprintf("valgov: %s called while %s, want %s", call, got, want))
}

// BeginHandshake claims the handshake.
func (g *LifecycleGuard) BeginHandshake() {
	if !g.phase.CompareAndSwap(uint32(phaseInit), uint32(phaseHandshaking)) {
		misuse("Handshake", g.current(), phaseInit)
	}
}

// EndHandshake opens the guard, or rewinds it for another attempt when
// err is non-nil.
func (g *LifecycleGuard) EndHandshake(err error) {
	if err != nil {
		g.phase.Store(uint32(phaseInit))
		return
	}
	g.open.Store(true)
	g.phase.Store(uint32(phaseIdle))
}

// BeginExecute waits for a block call in flight to end and claims the
// next block. After a halt it returns the halt.
func (g *LifecycleGuard) BeginExecute() error {
	return g.begin("ExecuteBlock", phaseIdle, phaseExecuting)
}

// EndExecute records how ExecuteBlock ended. A failed block may be
// executed again unless the failure was a halt. It reports whether
// err halted the guard.
func (g *LifecycleGuard) EndExecute(err error) bool {
	return g.end(err, phaseExecuted, phaseIdle)
}

// BeginCommit waits for a block call in flight to end and claims the
// commit of the executed block. After a halt it returns the halt.
func (g *LifecycleGuard) BeginCommit() error {
	return g.begin("Commit", phaseExecuted, phaseCommitting)
}

// EndCommit records how Commit ended and reports whether err halted
// the guard.
func (g *LifecycleGuard) EndCommit(err error) bool {
	return g.end(err, phaseIdle, phaseIdle)
}

func (g *LifecycleGuard) begin(call string, want, next phase) error {
	g.blockMu.Lock()
	if h := g.halt.Load(); h != nil {
		g.blockMu.Unlock()
		return h
	}
	if got := g.current(); got != want {
		g.blockMu.Unlock()
		misuse(call, got, want)
	}
	g.phase.Store(uint32(next))
	return nil
}

func (g *LifecycleGuard) end(err error, ok, failed phase) bool {
	defer g.blockMu.Unlock()
	if err == nil {
		g.phase.Store(uint32(ok))
		return false
	}
	h, isHalt := valgov.IsHalt(err)
	if !isHalt {
		g.phase.Store(uint32(failed))
		return false
	}
	first := g.halt.CompareAndSwap(nil, h)
	g.phase.Store(uint32(phaseHalted))
	return first
}

// RequireOpen panics unless a handshake has succeeded.
func (g *LifecycleGuard) RequireOpen(call string) {
	if !g.open.Load() {
		panic(fmt.Sprintf("valgov: %s called before Handshake", call))
	}
}

// Open reports whether a handshake has succeeded.
func (g *LifecycleGuard) Open() bool {
	return g.open.Load()
}

// Halted returns the recorded halt, or nil.
func (g *LifecycleGuard) Halted() *valgov.HaltError {
	return g.halt.Load()
}
