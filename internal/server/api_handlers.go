package server

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/CodeByMAB/Falconer/internal/funding"
	"github.com/CodeByMAB/Falconer/internal/validation"
)

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}

// handleListProposals returns proposal summaries, newest first.
// Supports ?status= and ?limit= filters.
func (s *Server) handleListProposals(w http.ResponseWriter, r *http.Request) {
	status := funding.Status(r.URL.Query().Get("status"))
	limit := queryInt(r, "limit", 50)

	summaries, err := s.manager.List(status, limit)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list proposals")
		s.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"proposals": summaries,
		"count":     len(summaries),
	})
}

func (s *Server) handleGetProposal(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "proposalID")

	proposal, err := s.manager.Get(id)
	if err != nil {
		if funding.IsNotFound(err) {
			s.writeError(w, http.StatusNotFound, "Proposal not found")
			return
		}
		s.log.Error().Err(err).Str("proposal_id", id).Msg("failed to load proposal")
		s.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	s.writeJSON(w, http.StatusOK, proposal)
}

func (s *Server) handleProposalStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.manager.Statistics()
	if err != nil {
		s.log.Error().Err(err).Msg("failed to compute proposal statistics")
		s.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// handlePolicySummary reports the active policy alongside today's spend.
func (s *Server) handlePolicySummary(w http.ResponseWriter, r *http.Request) {
	pol := s.engine.Policy()

	var spentToday int64
	var txCountToday int
	if days, err := s.engine.DailySpendSummary(1); err == nil && len(days) > 0 {
		spentToday = days[0].TotalSpentSats
		txCountToday = days[0].TransactionCount
	}

	remaining := pol.MaxDailySpendSats - spentToday
	if remaining < 0 {
		remaining = 0
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"policy":                pol,
		"spent_today_sats":      spentToday,
		"transactions_today":    txCountToday,
		"remaining_today_sats":  remaining,
		"destination_allowlist": len(pol.AllowedDestinations),
	})
}

func (s *Server) handlePolicyViolations(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	violations := s.engine.Violations(limit)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"violations": violations,
		"count":      len(violations),
	})
}

func (s *Server) handleDailySpend(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 7)
	summary, err := s.engine.DailySpendSummary(days)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to load daily spend summary")
		s.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"days":  summary,
		"count": len(summary),
	})
}

func (s *Server) handleLatestFeeBrief(w http.ResponseWriter, r *http.Request) {
	brief, err := s.feebrief.Latest()
	if err != nil {
		s.log.Error().Err(err).Msg("failed to load fee brief")
		s.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if brief == nil {
		s.writeError(w, http.StatusNotFound, "No fee brief generated yet")
		return
	}
	s.writeJSON(w, http.StatusOK, brief)
}

func (s *Server) handleMarketSnapshot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.market.Snapshot())
}

// handleAddressStats proxies chain statistics for a single address from
// the electrs index. 503 when no electrs endpoint is configured.
func (s *Server) handleAddressStats(w http.ResponseWriter, r *http.Request) {
	if s.electrs == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Address index not configured")
		return
	}
	address := chi.URLParam(r, "address")
	if !validation.IsValidAddress(address, validation.NetworkMainnet) &&
		!validation.IsValidAddress(address, validation.NetworkTestnet) {
		s.writeError(w, http.StatusBadRequest, "Invalid address")
		return
	}

	stats, err := s.electrs.GetAddressStats(r.Context(), address)
	if err != nil {
		s.log.Error().Err(err).Str("address", address).Msg("failed to fetch address stats")
		s.writeError(w, http.StatusBadGateway, "Address index unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// handleSystemStatus reports process and host health.
func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"service":        "falconer",
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"goroutines":     runtime.NumGoroutine(),
		"timestamp":      time.Now().UTC(),
	}

	if cpuPercent, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(cpuPercent) > 0 {
		status["cpu_percent"] = cpuPercent[0]
	}
	if memStat, err := mem.VirtualMemory(); err == nil {
		status["memory_percent"] = memStat.UsedPercent
		status["memory_used_mb"] = memStat.Used / 1024 / 1024
	}

	dbHealthy := true
	if err := s.db.Health(); err != nil {
		dbHealthy = false
		status["database_error"] = err.Error()
	}
	status["database_healthy"] = dbHealthy

	code := http.StatusOK
	if !dbHealthy {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, status)
}
