package api

import (
	"github.com/haneul-labs/sori-server/domain/entities"
	"github.com/haneul-labs/sori-server/internal/recovery"
)

// HealthResponse is the /healthz payload.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// StatsResponse is the /stats payload: live sessions, fault counters and
// recognition engine availability.
type StatsResponse struct {
	Sessions     []entities.SessionInfo `json:"sessions"`
	Faults       recovery.EngineStats   `json:"faults"`
	ActiveEngine string                 `json:"active_engine"`
	Engines      map[string]bool        `json:"engines"`
}
