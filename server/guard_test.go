package server

import (
	"errors"
	"sync"
	"testing"

	"github.com/blockberries/valgov"
)

func opened(t *testing.T) *LifecycleGuard {
	t.Helper()
	g := NewLifecycleGuard()
	g.BeginHandshake()
	g.EndHandshake(nil)
	if !g.Open() || g.Phase() != "idle" {
		t.Fatalf("after handshake: open=%v phase=%s", g.Open(), g.Phase())
	}
	return g
}

func mustBegin(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
}

func TestGuard_BlockCycles(t *testing.T) {
	g := opened(t)
	for height := 1; height <= 3; height++ {
		mustBegin(t, g.BeginExecute())
		if g.Phase() != "executing" {
			t.Fatalf("block %d: phase %s", height, g.Phase())
		}
		g.EndExecute(nil)
		if g.Phase() != "executed" {
			t.Fatalf("block %d: phase %s", height, g.Phase())
		}
		mustBegin(t, g.BeginCommit())
		g.EndCommit(nil)
		if g.Phase() != "idle" {
			t.Fatalf("block %d: phase %s", height, g.Phase())
		}
	}
}

func TestGuard_OutOfOrderPanics(t *testing.T) {
	tests := []struct {
		name string
		call func(g *LifecycleGuard)
	}{
		{"read before handshake", func(g *LifecycleGuard) {
			g.RequireOpen("Query")
		}},
		{"execute before handshake", func(g *LifecycleGuard) {
			g.BeginExecute()
		}},
		{"execute during handshake", func(g *LifecycleGuard) {
			g.BeginHandshake()
			g.BeginExecute()
		}},
		{"second handshake", func(g *LifecycleGuard) {
			g.BeginHandshake()
			g.EndHandshake(nil)
			g.BeginHandshake()
		}},
		{"commit without execute", func(g *LifecycleGuard) {
			g.BeginHandshake()
			g.EndHandshake(nil)
			g.BeginCommit()
		}},
		{"execute twice", func(g *LifecycleGuard) {
			g.BeginHandshake()
			g.EndHandshake(nil)
			g.BeginExecute()
			g.EndExecute(nil)
			g.BeginExecute()
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Fatal("expected panic")
				}
			}()
			tt.call(NewLifecycleGuard())
		})
	}
}

func TestGuard_FailedHandshakeRetries(t *testing.T) {
	g := NewLifecycleGuard()
	g.BeginHandshake()
	g.EndHandshake(errors.New("no genesis"))
	if g.Phase() != "init" || g.Open() {
		t.Fatalf("expected closed init, got %s", g.Phase())
	}
	g.BeginHandshake()
	g.EndHandshake(nil)
	if !g.Open() {
		t.Fatal("handshake not recorded")
	}
}

func TestGuard_FailedExecuteRetries(t *testing.T) {
	g := opened(t)
	mustBegin(t, g.BeginExecute())
	if g.EndExecute(errors.New("deadline")) {
		t.Fatal("plain error reported as halt")
	}
	if g.Phase() != "idle" {
		t.Fatalf("expected idle after failed execute, got %s", g.Phase())
	}
	mustBegin(t, g.BeginExecute())
	g.EndExecute(nil)
	mustBegin(t, g.BeginCommit())
	g.EndCommit(nil)
}

func TestGuard_HaltStopsBlocks(t *testing.T) {
	g := opened(t)
	mustBegin(t, g.BeginExecute())
	g.EndExecute(nil)
	mustBegin(t, g.BeginCommit())

	halt := valgov.NewHaltError(4, "disk full")
	if !g.EndCommit(halt) {
		t.Fatal("first halt not reported")
	}
	if g.Phase() != "halted" || g.Halted() != halt {
		t.Fatalf("phase %s, halt %v", g.Phase(), g.Halted())
	}

	// Block calls return the halt instead of panicking or blocking.
	for i := 0; i < 2; i++ {
		if err := g.BeginExecute(); !errors.Is(err, halt) {
			t.Fatalf("BeginExecute after halt: %v", err)
		}
		if err := g.BeginCommit(); !errors.Is(err, halt) {
			t.Fatalf("BeginCommit after halt: %v", err)
		}
	}
	g.RequireOpen("Query")
}

// Reads stay allowed while a block executes.
func TestGuard_ReadsDuringExecute(t *testing.T) {
	g := opened(t)
	mustBegin(t, g.BeginExecute())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.RequireOpen("CheckTx")
		}()
	}
	wg.Wait()

	g.EndExecute(nil)
	mustBegin(t, g.BeginCommit())
	g.EndCommit(nil)
}
