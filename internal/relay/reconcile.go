package relay

import (
	"context"
	"sort"
)

// ReconcileReport summarizes the startup comparison between the static
// catalog and the daemon.
type ReconcileReport struct {
	Healthy bool
	// Missing holds static catalog ids the daemon did not report.
	Missing []string
	// Extra holds daemon ids absent from the static catalog.
	Extra []string
	// Err is the health or voice-listing failure, if any.
	Err error
}

// Reconcile probes the daemon and logs voice discrepancies. It never fails:
// every problem is logged and recorded in the report.
func (s *State) Reconcile(ctx context.Context) ReconcileReport {
	var report ReconcileReport

	if err := s.client.Health(ctx); err != nil {
		s.logger.Warn("gwent daemon healthcheck failed at startup", "error", err)
		report.Err = err
		s.recordReconcile(report)
		return report
	}
	report.Healthy = true
	s.logger.Info("gwent daemon healthcheck passed")

	daemonIDs, err := s.client.VoiceIDs(ctx)
	if err != nil {
		s.logger.Warn("failed to fetch gwent daemon voices for validation", "error", err)
		report.Err = err
		s.recordReconcile(report)
		return report
	}

	static := s.catalog.IDs()
	report.Missing = difference(static, daemonIDs)
	report.Extra = difference(daemonIDs, static)

	if len(report.Missing) > 0 {
		s.logger.Warn("configured static gwent voices missing from daemon", "voices", report.Missing)
	}
	if len(report.Extra) > 0 {
		s.logger.Warn("daemon reported additional gwent voices not in static map", "voices", report.Extra)
	}
	s.recordReconcile(report)
	return report
}

func (s *State) recordReconcile(report ReconcileReport) {
	if s.metrics == nil {
		return
	}
	healthy := 0.0
	if report.Healthy {
		healthy = 1
	}
	s.metrics.DaemonHealthy.Set(healthy)
	s.metrics.VoiceDiscrepancies.WithLabelValues("missing_from_daemon").Set(float64(len(report.Missing)))
	s.metrics.VoiceDiscrepancies.WithLabelValues("not_in_static_map").Set(float64(len(report.Extra)))
}

// difference returns the sorted ids in a that are not in b.
func difference(a, b map[string]struct{}) []string {
	var out []string
	for id := range a {
		if _, ok := b[id]; !ok {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
