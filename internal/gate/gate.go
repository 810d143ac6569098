// Package gate bounds the number of synthesis calls in flight.
package gate

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Gate is a counting semaphore. Waiters are admitted in FIFO order.
type Gate struct {
	sem      *semaphore.Weighted
	capacity int
	inFlight atomic.Int64
	waiting  atomic.Int64
}

// Permit is one held slot. Release returns it; extra calls are no-ops.
type Permit struct {
	gate *Gate
	once sync.Once
}

func New(capacity int) (*Gate, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("gate capacity must be greater than 0, got %d", capacity)
	}
	return &Gate{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: capacity,
	}, nil
}

// Acquire blocks until a slot is free or ctx is done. On error no slot is
// held.
func (g *Gate) Acquire(ctx context.Context) (*Permit, error) {
	g.waiting.Add(1)
	err := g.sem.Acquire(ctx, 1)
	g.waiting.Add(-1)
	if err != nil {
		return nil, err
	}
	g.inFlight.Add(1)
	return &Permit{gate: g}, nil
}

func (p *Permit) Release() {
	if p == nil {
		return
	}
	p.once.Do(func() {
		p.gate.inFlight.Add(-1)
		p.gate.sem.Release(1)
	})
}

func (g *Gate) Capacity() int { return g.capacity }

// InFlight reports how many permits are currently held.
func (g *Gate) InFlight() int { return int(g.inFlight.Load()) }

// Waiting reports how many callers are blocked in Acquire.
func (g *Gate) Waiting() int { return int(g.waiting.Load()) }
