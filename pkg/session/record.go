// Session data model: run metadata, samples, mesh snapshots
//
// The session document is the unit of persistence and the contract with
// the post-processing consumer. Field names follow the established
// results-file layout (metadata.user / metadata.script / metadata.z_axis,
// probed_matrix with mesh_min/mesh_max) so existing tooling keeps working.
//
// Copyright (C) 2026  Gantry Drift Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package session

import (
	"math"
	"time"
)

// DataStructureVersion identifies the document layout for consumers.
const DataStructureVersion = 4

// UserMeta identifies the operator and printer hardware.
type UserMeta struct {
	ID          string `json:"id"`
	Printer     string `json:"printer"`
	HomeType    string `json:"home_type"`
	MeasureType string `json:"measure_type"`
	Backers     string `json:"backers"`
	XRails      string `json:"x_rails"`
	Notes       string `json:"notes"`
	Timestamp   string `json:"timestamp"`
}

// ScriptMeta echoes the resolved run configuration so a document is
// self-describing without the original config file.
type ScriptMeta struct {
	DataStructure         int               `json:"data_structure"`
	BedTarget             float64           `json:"bed_target"`
	ExtruderTarget        float64           `json:"he_target"`
	SoakMinutes           float64           `json:"soak_minutes"`
	HotDurationHours      float64           `json:"hot_duration"`
	CoolDurationHours     float64           `json:"cool_duration"`
	SampleIntervalSeconds float64           `json:"sample_interval"`
	Commands              map[string]string `json:"commands"`
	Sensors               map[string]string `json:"sensors"`
}

// ZAxisMeta holds Z-axis facts gathered from the printer's config at
// session start. StepDistance is nil when the printer config does not
// expose enough to compute it.
type ZAxisMeta struct {
	StepDistance *float64 `json:"step_dist"`
	MaxZ         float64  `json:"max_z"`
	HomingSpeed  float64  `json:"homing_speed"`
}

// RunMetadata is written once at session start and never mutated.
type RunMetadata struct {
	User   UserMeta   `json:"user"`
	Script ScriptMeta `json:"script"`
	ZAxis  ZAxisMeta  `json:"z_axis"`
}

// Sample is one instant's observation. ZOffset is nil in phases where no
// Z measurement applies; sensor readings are nil when unavailable.
type Sample struct {
	Timestamp      time.Time           `json:"timestamp"`
	ElapsedSeconds float64             `json:"elapsed_seconds"`
	Phase          string              `json:"phase"`
	ZOffset        *float64            `json:"z_offset"`
	Sensors        map[string]*float64 `json:"sensors"`
}

// MeshSnapshot is one full bed-mesh calibration result.
type MeshSnapshot struct {
	Phase        string      `json:"phase"`
	Timestamp    time.Time   `json:"timestamp"`
	MeshMin      [2]float64  `json:"mesh_min"`
	MeshMax      [2]float64  `json:"mesh_max"`
	ProbedMatrix [][]float64 `json:"probed_matrix"`
	XCoords      []float64   `json:"x_coords"`
	YCoords      []float64   `json:"y_coords"`
}

// NewMeshSnapshot builds a snapshot with derived grid coordinates:
// evenly spaced points between mesh_min and mesh_max, rounded to 0.1mm,
// matching the probed matrix dimensions.
func NewMeshSnapshot(phase string, ts time.Time, meshMin, meshMax [2]float64, matrix [][]float64) MeshSnapshot {
	snap := MeshSnapshot{
		Phase:        phase,
		Timestamp:    ts,
		MeshMin:      meshMin,
		MeshMax:      meshMax,
		ProbedMatrix: matrix,
	}
	if len(matrix) > 0 {
		snap.XCoords = linspace(meshMin[0], meshMax[0], len(matrix[0]))
		snap.YCoords = linspace(meshMin[1], meshMax[1], len(matrix))
	}
	return snap
}

func linspace(lo, hi float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	coords := make([]float64, n)
	if n == 1 {
		coords[0] = round1(lo)
		return coords
	}
	step := (hi - lo) / float64(n-1)
	for i := range coords {
		coords[i] = round1(lo + float64(i)*step)
	}
	return coords
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// SessionRecord owns one run's metadata, its ordered sample sequence and
// its mesh snapshots. It grows monotonically until finalized.
type SessionRecord struct {
	Metadata RunMetadata    `json:"metadata"`
	Samples  []Sample       `json:"samples"`
	Meshes   []MeshSnapshot `json:"meshes"`
}
