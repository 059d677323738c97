package continuity

import (
	"context"
	"fmt"
	"time"
)

// MaintenanceReport summarizes one background sweep for one agent.
type MaintenanceReport struct {
	RunNumber    int          `json:"run_number"`
	AgentID      string       `json:"agent_id"`
	Indexed      int          `json:"indexed"`
	Pruned       int          `json:"pruned"`
	ArchiveStats ArchiveStats `json:"archive_stats"`
	Errors       []string     `json:"errors,omitempty"`
}

// RunMaintenance runs the periodic maintenance loop until ctx is cancelled:
// every interval it sweeps each registered agent, indexing archived days
// missing from the index log and pruning expired archives. Run it in its
// own goroutine; the ticker never blocks process exit once ctx is done.
func (e *Engine) RunMaintenance(ctx context.Context) {
	interval := time.Duration(e.cfg.Maintenance.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Duration(DefaultConfig().Maintenance.IntervalSeconds) * time.Second
	}
	e.logger.Info("maintenance: loop started", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("maintenance: loop stopped")
			return
		case <-ticker.C:
			for _, st := range e.snapshotAgents() {
				if report, err := e.maintainAgent(ctx, st); err != nil {
					e.logger.Error("maintenance: sweep failed", "agent", st.id, "error", err)
				} else if report.Indexed > 0 || report.Pruned > 0 || len(report.Errors) > 0 {
					e.logger.Info("maintenance: sweep done",
						"agent", st.id, "run", report.RunNumber,
						"indexed", report.Indexed, "pruned", report.Pruned,
						"errors", len(report.Errors))
				}
			}
		}
	}
}

// MaintenanceSweep runs one maintenance pass for one agent on demand.
func (e *Engine) MaintenanceSweep(ctx context.Context, agentID string) (MaintenanceReport, error) {
	return e.maintainAgent(ctx, e.agent(agentID))
}

// maintainAgent indexes un-indexed days, prunes expired archives, and drops
// pruned days from the index. Reentry is guarded so an overlapping timer
// tick cannot run two sweeps for the same agent; a failing step is recorded
// and the rest of the sweep continues.
func (e *Engine) maintainAgent(ctx context.Context, st *agentState) (MaintenanceReport, error) {
	if !st.maintenanceBusy.CompareAndSwap(false, true) {
		return MaintenanceReport{AgentID: st.id}, nil
	}
	defer st.maintenanceBusy.Store(false)

	st.mu.Lock()
	st.maintenanceRuns++
	report := MaintenanceReport{RunNumber: st.maintenanceRuns, AgentID: st.id}
	st.mu.Unlock()

	if err := e.ensureStorage(ctx, st); err != nil {
		return report, err
	}

	batchDelay := time.Duration(e.cfg.Archive.BatchIndexDelayMS) * time.Millisecond
	if batchDelay <= 0 {
		batchDelay = time.Duration(DefaultConfig().Archive.BatchIndexDelayMS) * time.Millisecond
	}

	unindexed, err := st.archiver.UnindexedDates(st.indexer.IndexedDates())
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("list unindexed: %v", err))
	}
	for i, date := range unindexed {
		entries, err := st.archiver.Conversation(date)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("load %s: %v", date, err))
			continue
		}
		n, err := st.indexer.IndexDay(ctx, date, entries)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("index %s: %v", date, err))
			continue
		}
		report.Indexed += n
		if i < len(unindexed)-1 {
			select {
			case <-ctx.Done():
				report.Errors = append(report.Errors, "sweep cancelled")
				return report, nil
			case <-time.After(batchDelay):
			}
		}
	}

	pruned, err := st.archiver.PruneOld()
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("prune: %v", err))
	}
	report.Pruned = len(pruned)
	for _, date := range pruned {
		if err := st.indexer.ForgetDay(ctx, date); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("forget %s: %v", date, err))
		}
	}

	stats, err := st.archiver.Stats()
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("stats: %v", err))
	}
	report.ArchiveStats = stats
	return report, nil
}
