package cache

// Stats is a snapshot of cache effectiveness.
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Errors  int64   `json:"errors"`
	HitRate float64 `json:"hit_rate"`
}

// Stats returns current counters.
func (c *Middleware) Stats() Stats {
	hits, misses := c.hits.Load(), c.misses.Load()
	s := Stats{Hits: hits, Misses: misses, Errors: c.errors.Load()}
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total)
	}
	return s
}
