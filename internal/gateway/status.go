package gateway

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/elucidate-ai/personalresearcher-ag4mzv-sub001/internal/events"
	"github.com/elucidate-ai/personalresearcher-ag4mzv-sub001/internal/health"
)

// breakerStatus is the serialized breaker view in status responses.
type breakerStatus struct {
	State     string  `json:"state"`
	ErrorRate float64 `json:"errorRate"`
	Successes int64   `json:"successes"`
	Failures  int64   `json:"failures"`
}

// backendStatus combines probe, breaker and transition history for one
// backend.
type backendStatus struct {
	Backend     string               `json:"backend"`
	Health      health.Record        `json:"health"`
	Breaker     breakerStatus        `json:"breaker"`
	Transitions []events.StatusEvent `json:"transitions,omitempty"`
}

func (s *Server) backendStatusFor(name string) (backendStatus, bool) {
	record, ok := s.monitor.Status(name)
	if !ok {
		return backendStatus{}, false
	}

	bs := backendStatus{
		Backend: name,
		Health:  record,
	}
	if breaker := s.breakers.Get(name); breaker != nil {
		st := breaker.Stats()
		bs.Breaker = breakerStatus{
			State:     st.State.String(),
			ErrorRate: st.ErrorRate(),
			Successes: st.Successes,
			Failures:  st.Failures,
		}
	}
	if s.transitions != nil {
		bs.Transitions = s.transitions.RecentFor(name)
	}
	return bs, true
}

// handleHealthz reports gateway liveness only; backend health lives
// under /api/v1/status.
func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatusAll(c *gin.Context) {
	records := s.monitor.StatusAll()
	sort.Slice(records, func(i, j int) bool { return records[i].Backend < records[j].Backend })

	statuses := make([]backendStatus, 0, len(records))
	for _, r := range records {
		if bs, ok := s.backendStatusFor(r.Backend); ok {
			statuses = append(statuses, bs)
		}
	}

	c.JSON(http.StatusOK, gin.H{"backends": statuses})
}

func (s *Server) handleStatusBackend(c *gin.Context) {
	name := c.Param("backend")
	bs, ok := s.backendStatusFor(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown backend", "backend": name})
		return
	}
	c.JSON(http.StatusOK, bs)
}

func (s *Server) handleStatsBackend(c *gin.Context) {
	name := c.Param("backend")
	record, ok := s.collector.Snapshot(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown backend", "backend": name})
		return
	}
	c.JSON(http.StatusOK, record)
}
