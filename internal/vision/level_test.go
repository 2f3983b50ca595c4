package vision

import (
	"testing"

	"github.com/e7canasta/vigil-mirror/internal/config"
	"github.com/e7canasta/vigil-mirror/internal/types"
)

func testFatigueConfig() config.FatigueConfig {
	return config.FatigueConfig{
		EARThreshold:       0.21,
		MARThreshold:       0.6,
		EARConsecFrames:    3,
		PerclosWindowS:     30,
		PerclosMild:        0.25,
		PerclosSevere:      0.40,
		PerclosMildClear:   0.20,
		PerclosSevereClear: 0.33,
		YawnsMild:          3,
		YawnsSevere:        5,
	}
}

func TestLevelEscalation(t *testing.T) {
	m := NewLevelMapper(testFatigueConfig())

	if got := m.Update(0.10, 0); got != types.LevelNormal {
		t.Fatalf("level = %v, want normal", got)
	}
	if got := m.Update(0.26, 0); got != types.LevelMild {
		t.Fatalf("level = %v, want mild at perclos 0.26", got)
	}
	if got := m.Update(0.45, 0); got != types.LevelSevere {
		t.Fatalf("level = %v, want severe at perclos 0.45", got)
	}
}

func TestLevelEscalatesOnYawnsAlone(t *testing.T) {
	m := NewLevelMapper(testFatigueConfig())

	if got := m.Update(0.05, 3); got != types.LevelMild {
		t.Fatalf("level = %v, want mild at 3 yawns/min", got)
	}
	if got := m.Update(0.05, 5); got != types.LevelSevere {
		t.Fatalf("level = %v, want severe at 5 yawns/min", got)
	}
}

func TestLevelSkipsDirectlyToSevere(t *testing.T) {
	m := NewLevelMapper(testFatigueConfig())
	if got := m.Update(0.50, 0); got != types.LevelSevere {
		t.Fatalf("level = %v, want severe from normal in one step", got)
	}
}

func TestHysteresisNoFlappingAtThreshold(t *testing.T) {
	m := NewLevelMapper(testFatigueConfig())

	m.Update(0.26, 0)
	if m.Current() != types.LevelMild {
		t.Fatal("setup: expected mild")
	}

	// Oscillate just below the escalation threshold but above the clear
	// threshold. The level must hold mild the whole time.
	trace := []float64{0.24, 0.26, 0.23, 0.25, 0.22, 0.24, 0.21}
	for _, p := range trace {
		if got := m.Update(p, 0); got != types.LevelMild {
			t.Fatalf("level flapped to %v at perclos %v", got, p)
		}
	}

	// Only a drop below the clear threshold releases it.
	if got := m.Update(0.19, 0); got != types.LevelNormal {
		t.Fatalf("level = %v, want normal below clear threshold", got)
	}
}

func TestDeEscalationStepwise(t *testing.T) {
	m := NewLevelMapper(testFatigueConfig())

	m.Update(0.45, 0)
	if m.Current() != types.LevelSevere {
		t.Fatal("setup: expected severe")
	}

	// Below the severe clear but above the mild clear: one step down.
	if got := m.Update(0.30, 0); got != types.LevelMild {
		t.Fatalf("level = %v, want mild on partial recovery", got)
	}
	// Above the severe clear: holds severe.
	m2 := NewLevelMapper(testFatigueConfig())
	m2.Update(0.45, 0)
	if got := m2.Update(0.35, 0); got != types.LevelSevere {
		t.Fatalf("level = %v, want severe held at perclos 0.35", got)
	}
}

func TestDeEscalationFullRecovery(t *testing.T) {
	m := NewLevelMapper(testFatigueConfig())

	m.Update(0.45, 0)
	// Far below both clear thresholds: severe drops straight to normal.
	if got := m.Update(0.05, 0); got != types.LevelNormal {
		t.Fatalf("level = %v, want normal on full recovery", got)
	}
}

func TestDeEscalationBlockedByYawns(t *testing.T) {
	m := NewLevelMapper(testFatigueConfig())

	m.Update(0.45, 0)
	// Perclos has recovered but yawns keep the severe signal alive.
	if got := m.Update(0.05, 5); got != types.LevelSevere {
		t.Fatalf("level = %v, want severe held by yawn rate", got)
	}
	if got := m.Update(0.05, 4); got != types.LevelMild {
		t.Fatalf("level = %v, want mild with yawns below severe threshold", got)
	}
	if got := m.Update(0.05, 1); got != types.LevelNormal {
		t.Fatalf("level = %v, want normal once yawns subside", got)
	}
}
