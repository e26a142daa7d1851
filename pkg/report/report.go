// Package report post-processes persisted session records: mesh drift
// between the two hot-phase snapshots and the frame expansion
// coefficient relating frame temperature to measured Z drift.
//
// Copyright (C) 2026  Gantry Drift Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package report

import (
	"encoding/json"
	"math"
	"os"

	gderr "gantry-drift/pkg/errors"
	"gantry-drift/pkg/session"
)

// Load reads a persisted session record.
func Load(path string) (*session.SessionRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, gderr.ConfigErrorf("unable to read session record %s: %v", path, err)
	}
	var rec session.SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, gderr.ConfigErrorf("session record %s is not valid JSON: %v", path, err)
	}
	if rec.Metadata.Script.DataStructure != session.DataStructureVersion {
		return nil, gderr.ConfigErrorf("session record %s has data structure %d, want %d",
			path, rec.Metadata.Script.DataStructure, session.DataStructureVersion)
	}
	return &rec, nil
}

// MeshDelta subtracts the first snapshot's probed matrix from the
// second, cell by cell. The grids must have identical dimensions.
func MeshDelta(first, second session.MeshSnapshot) ([][]float64, error) {
	if len(first.ProbedMatrix) != len(second.ProbedMatrix) {
		return nil, gderr.ConfigErrorf("mesh dimensions differ: %d vs %d rows",
			len(first.ProbedMatrix), len(second.ProbedMatrix))
	}
	delta := make([][]float64, len(second.ProbedMatrix))
	for i := range second.ProbedMatrix {
		if len(first.ProbedMatrix[i]) != len(second.ProbedMatrix[i]) {
			return nil, gderr.ConfigErrorf("mesh row %d dimensions differ: %d vs %d cells",
				i, len(first.ProbedMatrix[i]), len(second.ProbedMatrix[i]))
		}
		delta[i] = make([]float64, len(second.ProbedMatrix[i]))
		for j := range second.ProbedMatrix[i] {
			delta[i][j] = second.ProbedMatrix[i][j] - first.ProbedMatrix[i][j]
		}
	}
	return delta, nil
}

// DeltaStats summarizes a mesh delta grid.
type DeltaStats struct {
	Min, Max, Mean float64
}

// Stats computes min/max/mean over a delta grid.
func Stats(delta [][]float64) DeltaStats {
	stats := DeltaStats{Min: math.Inf(1), Max: math.Inf(-1)}
	n := 0
	sum := 0.0
	for _, row := range delta {
		for _, v := range row {
			stats.Min = math.Min(stats.Min, v)
			stats.Max = math.Max(stats.Max, v)
			sum += v
			n++
		}
	}
	if n == 0 {
		return DeltaStats{}
	}
	stats.Mean = sum / float64(n)
	return stats
}

// ExpansionFit is a least-squares line through (sensor temperature,
// z offset) pairs: z = Slope*temp + Intercept. Slope is the frame
// expansion coefficient in mm per degree.
type ExpansionFit struct {
	Slope     float64
	Intercept float64
	Points    int
}

// ExpansionCoefficient fits Z drift against the named sensor over the
// hot measurement samples. Samples missing either value are skipped; at
// least two distinct temperatures are required for a fit.
func ExpansionCoefficient(rec *session.SessionRecord, sensorKey string) (ExpansionFit, error) {
	var temps, offsets []float64
	for _, s := range rec.Samples {
		if s.Phase != "HotMeasure" || s.ZOffset == nil {
			continue
		}
		temp := s.Sensors[sensorKey]
		if temp == nil {
			continue
		}
		temps = append(temps, *temp)
		offsets = append(offsets, *s.ZOffset)
	}

	fit := ExpansionFit{Points: len(temps)}
	if len(temps) < 2 {
		return fit, gderr.ConfigErrorf(
			"need at least 2 usable samples for sensor %q, have %d", sensorKey, len(temps))
	}

	var sumT, sumZ, sumTT, sumTZ float64
	for i := range temps {
		sumT += temps[i]
		sumZ += offsets[i]
		sumTT += temps[i] * temps[i]
		sumTZ += temps[i] * offsets[i]
	}
	n := float64(len(temps))
	denom := n*sumTT - sumT*sumT
	if denom == 0 {
		return fit, gderr.ConfigErrorf(
			"sensor %q never changed temperature, no fit possible", sensorKey)
	}
	fit.Slope = (n*sumTZ - sumT*sumZ) / denom
	fit.Intercept = (sumZ - fit.Slope*sumT) / n
	return fit, nil
}
