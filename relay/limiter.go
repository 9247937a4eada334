package relay

import (
	"sync"

	"golang.org/x/time/rate"
)

// rateBurst and rateRefill implement spec.md §4.10/§5's per-IP policy:
// 10 tokens, refilling at 1/s.
const (
	rateBurst  = 10
	rateRefill = rate.Limit(1)
)

type limiterSet struct {
	mu   sync.Mutex
	byIP map[string]*rate.Limiter
}

func newLimiterSet() *limiterSet {
	return &limiterSet{byIP: make(map[string]*rate.Limiter)}
}

func (s *limiterSet) allow(ip string) bool {
	s.mu.Lock()
	lim, ok := s.byIP[ip]
	if !ok {
		lim = rate.NewLimiter(rateRefill, rateBurst)
		s.byIP[ip] = lim
	}
	s.mu.Unlock()
	return lim.Allow()
}
