// Phase state machine for the measurement session
//
// The session is a fixed forward-only sequence. A phase is never retried
// as a whole; any unrecoverable error in a phase moves straight to
// Aborted. The transition table is the single source of truth for what
// order is legal, so each step can be tested without a printer.
//
// Copyright (C) 2026  Gantry Drift Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package engine

// Phase identifies one step of the measurement sequence. The ordinal
// order matches the execution order.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseHome
	PhaseQuadLevel
	PhaseReHome
	PhasePreHeatPosition
	PhaseHeating
	PhaseSoak
	PhaseHotMeasure
	PhaseCoolMeasure
	PhaseDone
	PhaseAborted
)

var phaseNames = map[Phase]string{
	PhaseInit:            "Init",
	PhaseHome:            "Home",
	PhaseQuadLevel:       "QuadLevel",
	PhaseReHome:          "ReHome",
	PhasePreHeatPosition: "PreHeatPosition",
	PhaseHeating:         "Heating",
	PhaseSoak:            "Soak",
	PhaseHotMeasure:      "HotMeasure",
	PhaseCoolMeasure:     "CoolMeasure",
	PhaseDone:            "Done",
	PhaseAborted:         "Aborted",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return "Unknown"
}

// Terminal reports whether the phase ends the session.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseAborted
}

// transitions lists the legal successors of each phase. QuadLevel is
// optional: Home may step over it when no leveling command is
// configured. Every non-terminal phase may fall to Aborted.
var transitions = map[Phase][]Phase{
	PhaseInit:            {PhaseHome},
	PhaseHome:            {PhaseQuadLevel, PhaseReHome},
	PhaseQuadLevel:       {PhaseReHome},
	PhaseReHome:          {PhasePreHeatPosition},
	PhasePreHeatPosition: {PhaseHeating},
	PhaseHeating:         {PhaseSoak},
	PhaseSoak:            {PhaseHotMeasure},
	PhaseHotMeasure:      {PhaseCoolMeasure},
	PhaseCoolMeasure:     {PhaseDone},
	PhaseDone:            nil,
	PhaseAborted:         nil,
}

// canTransition reports whether from -> to is a legal step.
func canTransition(from, to Phase) bool {
	if from.Terminal() {
		return false
	}
	if to == PhaseAborted {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
