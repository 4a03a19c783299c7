package memory

import "sync"

// Pools holds user memory keyed by correspondent and scenario.
// It is safe for concurrent use.
type Pools struct {
	mu    sync.RWMutex
	limit int
	pools map[string]map[string][]Entry
}

// NewPools returns an empty store. When limit is positive each pool keeps
// only its newest limit entries.
func NewPools(limit int) *Pools {
	return &Pools{limit: limit, pools: make(map[string]map[string][]Entry)}
}

// Append adds e to the pool for (who, scenario).
func (p *Pools) Append(who, scenario string, e Entry) {
	p.mu.Lock()
	defer p.mu.Unlock()

	byScenario, ok := p.pools[who]
	if !ok {
		byScenario = make(map[string][]Entry)
		p.pools[who] = byScenario
	}
	pool := append(byScenario[scenario], e)
	if p.limit > 0 && len(pool) > p.limit {
		pool = append([]Entry(nil), pool[len(pool)-p.limit:]...)
	}
	byScenario[scenario] = pool
}

// Pool returns a copy of the pool for (who, scenario), oldest first.
func (p *Pools) Pool(who, scenario string) []Entry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Entry(nil), p.pools[who][scenario]...)
}

// Len returns the number of entries held for who across all scenarios.
func (p *Pools) Len(who string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := 0
	for _, pool := range p.pools[who] {
		n += len(pool)
	}
	return n
}

// Forget drops every pool belonging to who.
func (p *Pools) Forget(who string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.pools, who)
}

// Export returns a deep copy of all pools.
func (p *Pools) Export() map[string]map[string][]Entry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]map[string][]Entry, len(p.pools))
	for who, byScenario := range p.pools {
		cp := make(map[string][]Entry, len(byScenario))
		for sc, pool := range byScenario {
			cp[sc] = append([]Entry(nil), pool...)
		}
		out[who] = cp
	}
	return out
}

// Import replaces the held pools with a copy of data.
func (p *Pools) Import(data map[string]map[string][]Entry) {
	fresh := make(map[string]map[string][]Entry, len(data))
	for who, byScenario := range data {
		cp := make(map[string][]Entry, len(byScenario))
		for sc, pool := range byScenario {
			cp[sc] = append([]Entry(nil), pool...)
		}
		fresh[who] = cp
	}
	p.mu.Lock()
	p.pools = fresh
	p.mu.Unlock()
}
