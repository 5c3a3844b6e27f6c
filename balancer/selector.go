// Package balancer picks the egress host for upstream fetches from rolling
// latency, success and load metrics.
package balancer

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	initialLatencyMs = 100
	maxSuccessRate   = 100
	failurePenalty   = 5
	latencyWeight    = 0.4
	successWeight    = 0.4
	loadWeight       = 0.2
)

type Server struct {
	Host    string `json:"host"`
	Weight  int    `json:"weight"`
	Enabled bool   `json:"enabled"`
}

type Metrics struct {
	LatencyMs      float64 `json:"latencyMs"`
	SuccessRate    float64 `json:"successRate"`
	FailureCount   int64   `json:"failureCount"`
	ActiveRequests int64   `json:"activeRequests"`
}

type Status struct {
	Server
	Metrics
	Score float64 `json:"score"`
}

type node struct {
	server  Server
	metrics Metrics
}

// Selector is safe for concurrent use. Updates hold the lock only for the
// arithmetic, never across I/O.
type Selector struct {
	mu    sync.RWMutex
	nodes map[string]*node
	order []string
}

func NewSelector(servers []Server) *Selector {
	s := &Selector{nodes: make(map[string]*node)}
	for _, srv := range servers {
		if srv.Host == "" {
			continue
		}
		if srv.Weight <= 0 {
			srv.Weight = 1
		}
		if _, ok := s.nodes[srv.Host]; !ok {
			s.order = append(s.order, srv.Host)
		}
		s.nodes[srv.Host] = &node{
			server:  srv,
			metrics: Metrics{LatencyMs: initialLatencyMs, SuccessRate: maxSuccessRate},
		}
	}
	return s
}

// ParseServers reads "host[=weight],host[=weight]".
func ParseServers(raw string) ([]Server, error) {
	var servers []Server
	for _, field := range strings.Split(raw, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		host, weight := field, 1
		if i := strings.LastIndex(field, "="); i >= 0 {
			host = strings.TrimSpace(field[:i])
			w, err := strconv.Atoi(strings.TrimSpace(field[i+1:]))
			if err != nil || w <= 0 {
				return nil, fmt.Errorf("balancer: invalid weight in %q", field)
			}
			weight = w
		}
		if host == "" {
			return nil, fmt.Errorf("balancer: empty host in %q", field)
		}
		servers = append(servers, Server{Host: host, Weight: weight, Enabled: true})
	}
	return servers, nil
}

func score(m Metrics, weight int) float64 {
	if weight <= 0 {
		weight = 1
	}
	latencyScore := math.Max(0, 100-m.LatencyMs/10)
	loadScore := math.Max(0, 100-float64(m.ActiveRequests)*10/float64(weight))
	return latencyWeight*latencyScore + successWeight*m.SuccessRate + loadWeight*loadScore
}

// SelectServer returns the best enabled host. ok is false when none is
// configured or enabled, and the caller should use the origin.
func (s *Selector) SelectServer() (host string, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	best := -1.0
	for _, h := range s.order {
		n := s.nodes[h]
		if !n.server.Enabled {
			continue
		}
		if sc := score(n.metrics, n.server.Weight); sc > best {
			best, host, ok = sc, h, true
		}
	}
	return host, ok
}

// Has reports whether host is a configured egress server.
func (s *Selector) Has(host string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.nodes[host]
	return ok
}

func (s *Selector) RecordSuccess(host string, latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[host]
	if !ok {
		return
	}
	ms := float64(latency) / float64(time.Millisecond)
	n.metrics.LatencyMs = 0.7*n.metrics.LatencyMs + 0.3*ms
	n.metrics.SuccessRate = math.Min(maxSuccessRate, n.metrics.SuccessRate+1)
}

func (s *Selector) RecordFailure(host string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[host]
	if !ok {
		return
	}
	n.metrics.FailureCount++
	n.metrics.SuccessRate = math.Max(0, n.metrics.SuccessRate-failurePenalty)
}

// Acquire counts a request in flight against host. The returned func releases
// it and is safe to call more than once.
func (s *Selector) Acquire(host string) (release func()) {
	s.mu.Lock()
	n, ok := s.nodes[host]
	if ok {
		n.metrics.ActiveRequests++
	}
	s.mu.Unlock()
	if !ok {
		return func() {}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if n.metrics.ActiveRequests > 0 {
				n.metrics.ActiveRequests--
			}
		})
	}
}

func (s *Selector) SetEnabled(host string, enabled bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[host]
	if ok {
		n.server.Enabled = enabled
	}
	return ok
}

// Snapshot returns every server with its metrics, best score first.
func (s *Selector) Snapshot() []Status {
	s.mu.RLock()
	out := make([]Status, 0, len(s.order))
	for _, h := range s.order {
		n := s.nodes[h]
		out = append(out, Status{Server: n.server, Metrics: n.metrics, Score: score(n.metrics, n.server.Weight)})
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}
