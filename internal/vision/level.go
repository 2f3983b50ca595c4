package vision

import (
	"github.com/e7canasta/vigil-mirror/internal/config"
	"github.com/e7canasta/vigil-mirror/internal/types"
)

// LevelMapper converts PERCLOS and yawn frequency into a discrete fatigue
// level with hysteresis: escalation uses the configured thresholds,
// de-escalation requires the signal to drop below the stricter clear
// thresholds. This keeps the level from flapping when the signal hovers
// at a boundary.
type LevelMapper struct {
	cfg     config.FatigueConfig
	current types.FatigueLevel
}

// NewLevelMapper starts at LevelNormal.
func NewLevelMapper(cfg config.FatigueConfig) *LevelMapper {
	return &LevelMapper{cfg: cfg}
}

// Current returns the level as of the last Update.
func (m *LevelMapper) Current() types.FatigueLevel { return m.current }

// Update feeds the latest metrics and returns the resulting level.
func (m *LevelMapper) Update(perclos float64, yawnsPerMin int) types.FatigueLevel {
	target := m.classify(perclos, yawnsPerMin)

	if target > m.current {
		m.current = target
		return m.current
	}
	if target == m.current {
		return m.current
	}

	// De-escalate one step at a time, each step gated by its clear pair.
	switch m.current {
	case types.LevelSevere:
		if perclos < m.cfg.PerclosSevereClear && yawnsPerMin < m.cfg.YawnsSevere {
			if perclos < m.cfg.PerclosMildClear && yawnsPerMin < m.cfg.YawnsMild {
				m.current = types.LevelNormal
			} else {
				m.current = types.LevelMild
			}
		}
	case types.LevelMild:
		if perclos < m.cfg.PerclosMildClear && yawnsPerMin < m.cfg.YawnsMild {
			m.current = types.LevelNormal
		}
	}
	return m.current
}

// classify applies the escalation thresholds only.
func (m *LevelMapper) classify(perclos float64, yawnsPerMin int) types.FatigueLevel {
	switch {
	case perclos >= m.cfg.PerclosSevere || yawnsPerMin >= m.cfg.YawnsSevere:
		return types.LevelSevere
	case perclos >= m.cfg.PerclosMild || yawnsPerMin >= m.cfg.YawnsMild:
		return types.LevelMild
	default:
		return types.LevelNormal
	}
}
