package api

import (
	"net/http"
	"runtime"
	"time"
)

// SystemStats represents the complete engine statistics response.
type SystemStats struct {
	Timestamp     string           `json:"timestamp"`
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Runtime       RuntimeStats     `json:"runtime"`
	WebSocket     WSStats          `json:"websocket"`
	Twins         TwinStats        `json:"twins"`
	Engine        EngineStats      `json:"engine"`
	Writes        WriteStats       `json:"writes"`
	Bus           BusStats         `json:"bus"`
	Poller        *PollStats       `json:"poller,omitempty"`
	Simulation    *SimulationStats `json:"simulation,omitempty"`
}

// RuntimeStats contains Go runtime statistics.
type RuntimeStats struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSStats contains WebSocket hub statistics.
type WSStats struct {
	ConnectedClients int `json:"connected_clients"`
}

// TwinStats contains twin registry statistics.
type TwinStats struct {
	Total     int `json:"total"`
	Simulated int `json:"simulated"`
	Connected int `json:"connected"`
}

// EngineStats contains reconciliation engine counters.
type EngineStats struct {
	Syncs          uint64 `json:"syncs"`
	Coalesced      uint64 `json:"coalesced"`
	Throttled      uint64 `json:"throttled"`
	ChangesApplied uint64 `json:"changes_applied"`
}

// WriteStats contains virtual write validator counters.
type WriteStats struct {
	Accepted  uint64 `json:"accepted"`
	Rejected  uint64 `json:"rejected"`
	Simulated uint64 `json:"simulated"`
}

// BusStats contains event bus counters.
type BusStats struct {
	Subscribers int    `json:"subscribers"`
	Emitted     uint64 `json:"emitted"`
}

// PollStats contains poller counters.
type PollStats struct {
	Cycles uint64 `json:"cycles"`
	Polls  uint64 `json:"polls"`
	Misses uint64 `json:"misses"`
}

// SimulationStats contains simulation driver counters.
type SimulationStats struct {
	Running  int    `json:"running"`
	Ticks    uint64 `json:"ticks"`
	Writes   uint64 `json:"writes"`
	Rejected uint64 `json:"rejected"`
}

// handleStats returns comprehensive engine statistics.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	stats := SystemStats{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeStats{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
	}

	if s.hub != nil {
		stats.WebSocket = WSStats{ConnectedClients: s.hub.ClientCount()}
	}

	stats.Twins = s.twinStats()

	engineStats := s.engine.Stats()
	stats.Engine = EngineStats{
		Syncs:          engineStats.Syncs,
		Coalesced:      engineStats.Coalesced,
		Throttled:      engineStats.Throttled,
		ChangesApplied: engineStats.ChangesApplied,
	}

	writerStats := s.writer.Stats()
	stats.Writes = WriteStats{
		Accepted:  writerStats.Accepted,
		Rejected:  writerStats.Rejected,
		Simulated: writerStats.Simulated,
	}

	stats.Bus = BusStats{
		Subscribers: s.bus.SubscriberCount(),
		Emitted:     s.bus.Emitted(),
	}

	if s.poller != nil {
		pollerStats := s.poller.Stats()
		stats.Poller = &PollStats{
			Cycles: pollerStats.Cycles,
			Polls:  pollerStats.Polls,
			Misses: pollerStats.Misses,
		}
	}

	if s.simulator != nil {
		simStats := s.simulator.Stats()
		stats.Simulation = &SimulationStats{
			Running:  len(s.simulator.Running()),
			Ticks:    simStats.Ticks,
			Writes:   simStats.Writes,
			Rejected: simStats.Rejected,
		}
	}

	writeJSON(w, http.StatusOK, stats)
}

// twinStats summarises the registry without holding its lock across the
// response write.
func (s *Server) twinStats() TwinStats {
	twins := s.twins.List()
	stats := TwinStats{Total: len(twins)}
	for _, t := range twins {
		if t.Simulation.Simulated {
			stats.Simulated++
		}
		if t.Connected {
			stats.Connected++
		}
	}
	return stats
}
