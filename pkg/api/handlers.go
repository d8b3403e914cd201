package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/somabus/soma/pkg/bus"
	"github.com/somabus/soma/pkg/schema"
)

// Health handles GET /healthz.
func (s *Server) Health(c *gin.Context) {
	status := "healthy"
	code := http.StatusOK
	if s.core.Bus().Closed() {
		status = "shutting_down"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":   status,
		"overload": s.core.Overloaded(),
		"bus_size": s.core.Bus().Size(),
		"sessions": s.core.Store().Len(),
	})
}

// Stats handles GET /stats.
func (s *Server) Stats(c *gin.Context) {
	now := time.Now()
	gm := s.core.GateMetrics()
	pain := s.core.Monitor().Snapshot(now)
	overrides := s.core.Provider().Snapshot().Overrides

	c.JSON(http.StatusOK, gin.H{
		"bus": gin.H{
			"size":            s.core.Bus().Size(),
			"published_total": s.core.Bus().PublishedTotal(),
			"dropped_total":   s.core.Bus().DroppedTotal(),
		},
		"router": gin.H{
			"active_sessions": s.core.Router().ListActiveSessions(),
			"dropped_total":   s.core.Router().DroppedTotal(),
		},
		"gate": gin.H{
			"processed_total": gm.ProcessedTotal(),
			"dropped_total":   gm.DroppedTotal(),
			"sunk_total":      gm.SunkTotal(),
			"delivered_total": gm.DeliveredTotal(),
			"by_scene":        gm.ByScene(),
			"by_action":       gm.ByAction(),
			"pools": gin.H{
				"drop": s.core.Gate().DropPool.Total(),
				"sink": s.core.Gate().SinkPool.Total(),
				"tool": s.core.Gate().ToolPool.Total(),
			},
		},
		"nociception": gin.H{
			"pain_total":              pain.PainTotal,
			"pain_by_source":          pain.PainBySource,
			"pain_by_severity":        pain.PainBySeverity,
			"adapters_cooldown_total": pain.AdaptersCooldownTotal,
			"adapters_disabled":       pain.AdaptersDisabled,
			"fanout_suppressed":       pain.FanoutSuppressed,
			"fanout_skipped_total":    pain.FanoutSkippedTotal,
		},
		"overrides": gin.H{
			"emergency_mode":  overrides.EmergencyMode,
			"force_low_model": overrides.ForceLowModel,
		},
	})
}

// sessionSummary is the list-view projection of a session.
type sessionSummary struct {
	SessionKey     string    `json:"session_key"`
	CreatedAt      time.Time `json:"created_at"`
	LastActiveAt   time.Time `json:"last_active_at"`
	ProcessedTotal int64     `json:"processed_total"`
	ErrorTotal     int64     `json:"error_total"`
}

// ListSessions handles GET /sessions.
func (s *Server) ListSessions(c *gin.Context) {
	keys := s.core.Router().ListActiveSessions()
	sessions := make([]sessionSummary, 0, len(keys))
	for _, key := range keys {
		st, ok := s.core.Store().Peek(key)
		if !ok {
			continue
		}
		snap := st.Snapshot()
		sessions = append(sessions, sessionSummary{
			SessionKey:     snap.SessionKey,
			CreatedAt:      snap.CreatedAt,
			LastActiveAt:   snap.LastActiveAt,
			ProcessedTotal: snap.ProcessedTotal,
			ErrorTotal:     snap.ErrorTotal,
		})
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// recentEntry is the per-observation projection in the session detail view.
type recentEntry struct {
	ObsID      string         `json:"obs_id"`
	ObsType    schema.ObsType `json:"obs_type"`
	SourceName string         `json:"source_name"`
	ActorID    string         `json:"actor_id,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// GetSession handles GET /sessions/:key.
func (s *Server) GetSession(c *gin.Context) {
	key := c.Param("key")
	st, ok := s.core.Store().Peek(key)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	snap := st.Snapshot()
	recent := make([]recentEntry, 0, len(snap.Recent))
	for _, o := range snap.Recent {
		recent = append(recent, recentEntry{
			ObsID:      o.ObsID,
			ObsType:    o.ObsType,
			SourceName: o.SourceName,
			ActorID:    o.Actor.ActorID,
			Timestamp:  o.Timestamp,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"session_key":     snap.SessionKey,
		"created_at":      snap.CreatedAt,
		"last_active_at":  snap.LastActiveAt,
		"processed_total": snap.ProcessedTotal,
		"error_total":     snap.ErrorTotal,
		"recent":          recent,
	})
}

// CreateObservationRequest is the request body for POST /observations.
type CreateObservationRequest struct {
	SessionKey string `json:"session_key"`
	ActorID    string `json:"actor_id" binding:"required"`
	Text       string `json:"text" binding:"required"`
}

// CreateObservation handles POST /observations: text ingress onto the bus.
func (s *Server) CreateObservation(c *gin.Context) {
	var req CreateObservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	obs, err := schema.NewMessage("api:ingress", req.SessionKey, req.ActorID, req.Text)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res := s.core.PublishNowait(obs)
	if res.Dropped {
		code := http.StatusServiceUnavailable
		if res.Reason == bus.ReasonInvalid {
			code = http.StatusBadRequest
		}
		c.JSON(code, gin.H{"error": "observation rejected", "reason": res.Reason})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"obs_id": obs.ObsID, "session_key": obs.SessionKey})
}
