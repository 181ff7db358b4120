// Package monitor tracks the reachability belief for each downstream target.
// Beliefs change only through explicit probes (run by the reconciliation
// loop) or through delivery outcome feedback from the dispatcher.
package monitor

import (
	"context"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"

	"github.com/parkops/gatebridge/internal/constants"
	"github.com/parkops/gatebridge/internal/models"
)

// ProbeFunc checks reachability of one target. Probes must be
// side-effect-free: a handshake or ping, never a delivery.
type ProbeFunc func(ctx context.Context) error

// Monitor holds one TargetState per registered target.
type Monitor struct {
	states       cmap.ConcurrentMap[string, models.TargetState]
	probes       cmap.ConcurrentMap[string, ProbeFunc]
	order        []models.Target
	probeTimeout time.Duration
	logger       zerolog.Logger
}

// New builds an empty monitor.
func New(probeTimeout time.Duration, logger zerolog.Logger) *Monitor {
	if probeTimeout <= 0 {
		probeTimeout = constants.DefaultProbeTimeout
	}
	return &Monitor{
		states:       cmap.New[models.TargetState](),
		probes:       cmap.New[ProbeFunc](),
		probeTimeout: probeTimeout,
		logger:       logger,
	}
}

// Register adds a target with an initial Unknown status. A nil probe is
// allowed for targets whose state is driven purely by delivery feedback.
func (m *Monitor) Register(target models.Target, probe ProbeFunc) {
	m.states.Set(string(target), models.TargetState{Status: models.StatusUnknown})
	if probe != nil {
		m.probes.Set(string(target), probe)
	}
	m.order = append(m.order, target)
}

// Status returns the current belief for a target, Unknown if unregistered.
func (m *Monitor) Status(target models.Target) models.TargetStatus {
	if state, ok := m.states.Get(string(target)); ok {
		return state.Status
	}
	return models.StatusUnknown
}

// IsUp reports whether the target is currently believed reachable.
func (m *Monitor) IsUp(target models.Target) bool {
	return m.Status(target) == models.StatusUp
}

// Snapshot copies all target states for status reporting.
func (m *Monitor) Snapshot() map[models.Target]models.TargetState {
	snap := make(map[models.Target]models.TargetState, len(m.order))
	for _, t := range m.order {
		if state, ok := m.states.Get(string(t)); ok {
			snap[t] = state
		}
	}
	return snap
}

// ReportSuccess promotes a target to Up immediately after a live delivery
// succeeded, without waiting for the next probe.
func (m *Monitor) ReportSuccess(target models.Target) {
	prev := m.Status(target)
	m.states.Set(string(target), models.TargetState{
		Status:       models.StatusUp,
		LastProbedAt: time.Now(),
	})
	if prev != models.StatusUp {
		m.logger.Info().Str("target", string(target)).Msg("Target promoted to up after successful delivery")
	}
}

// ReportFailure demotes a target to Down immediately after a live delivery
// failed.
func (m *Monitor) ReportFailure(target models.Target, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	prev := m.Status(target)
	m.states.Set(string(target), models.TargetState{
		Status:       models.StatusDown,
		LastProbedAt: time.Now(),
		LastError:    msg,
	})
	if prev != models.StatusDown {
		m.logger.Warn().Str("target", string(target)).Str("error", msg).Msg("Target demoted to down after failed delivery")
	}
}

// ProbeAll re-probes every target that is not currently Up and returns the
// targets that recovered in this pass. Callers trigger exactly one cache
// drain per recovery, not one per probe cycle.
func (m *Monitor) ProbeAll(ctx context.Context) []models.Target {
	var recovered []models.Target

	for _, target := range m.order {
		probe, ok := m.probes.Get(string(target))
		if !ok {
			continue
		}
		state, _ := m.states.Get(string(target))
		if state.Status == models.StatusUp {
			continue
		}

		m.states.Set(string(target), models.TargetState{
			Status:       models.StatusProbing,
			LastProbedAt: time.Now(),
			LastError:    state.LastError,
		})

		probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
		err := probe(probeCtx)
		cancel()

		if err != nil {
			m.states.Set(string(target), models.TargetState{
				Status:       models.StatusDown,
				LastProbedAt: time.Now(),
				LastError:    err.Error(),
			})
			continue
		}

		m.states.Set(string(target), models.TargetState{
			Status:       models.StatusUp,
			LastProbedAt: time.Now(),
		})
		m.logger.Info().Str("target", string(target)).Msg("Target recovered")
		recovered = append(recovered, target)
	}

	return recovered
}
