// Run metadata assembly: Z-axis facts from the printer config plus the
// resolved run configuration, echoed into the session record so a
// document is self-describing.
//
// Copyright (C) 2026  Gantry Drift Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package engine

import (
	"context"
	"strconv"
	"strings"

	gderr "gantry-drift/pkg/errors"
	"gantry-drift/pkg/moonraker"
	"gantry-drift/pkg/sensors"
	"gantry-drift/pkg/session"
)

// gatherZAxis reads the stepper_z section of the printer's configfile
// object. Max travel and homing speed come straight from the config;
// the effective step distance is derived from rotation distance,
// microstepping and gear ratio when all of those are present, and left
// null otherwise.
func (e *Engine) gatherZAxis(ctx context.Context) (session.ZAxisMeta, error) {
	var meta session.ZAxisMeta

	status, err := e.ctrl.QueryObjects(ctx, map[string][]string{
		"configfile": {"settings"},
	})
	if err != nil {
		return meta, err
	}

	settings, ok := status["configfile"]["settings"].(map[string]any)
	if !ok {
		return meta, gderr.APIError("objects/query", "configfile exposes no settings")
	}
	stepperZ, ok := settings["stepper_z"].(map[string]any)
	if !ok {
		return meta, gderr.APIError("objects/query", "printer config has no stepper_z section")
	}

	maxZ, ok := numField(stepperZ, "position_max")
	if !ok {
		return meta, gderr.APIError("objects/query", "stepper_z exposes no position_max")
	}
	meta.MaxZ = maxZ
	if speed, ok := numField(stepperZ, "homing_speed"); ok {
		meta.HomingSpeed = speed
	}

	if step, ok := stepDistance(stepperZ); ok {
		meta.StepDistance = &step
	}
	return meta, nil
}

// stepDistance computes mm per microstep for the Z axis:
// rotation_distance / (full_steps * microsteps * gear_ratio).
func stepDistance(stepper map[string]any) (float64, bool) {
	rotation, ok := numField(stepper, "rotation_distance")
	if !ok || rotation <= 0 {
		return 0, false
	}
	microsteps, ok := numField(stepper, "microsteps")
	if !ok || microsteps <= 0 {
		return 0, false
	}
	fullSteps, ok := numField(stepper, "full_steps_per_rotation")
	if !ok || fullSteps <= 0 {
		fullSteps = 200
	}
	ratio := gearRatio(stepper["gear_ratio"])
	if ratio <= 0 {
		return 0, false
	}
	return rotation / (fullSteps * microsteps * ratio), true
}

// gearRatio reads a Klipper gear_ratio value: absent means direct
// drive (1), otherwise a list of driven:driving pairs multiplied
// together, accepted either as nested numeric pairs or "a:b" strings.
func gearRatio(v any) float64 {
	if v == nil {
		return 1
	}
	ratio := 1.0
	pairs, ok := v.([]any)
	if !ok {
		return 0
	}
	for _, p := range pairs {
		switch pair := p.(type) {
		case []any:
			if len(pair) != 2 {
				return 0
			}
			a, okA := pair[0].(float64)
			b, okB := pair[1].(float64)
			if !okA || !okB || b == 0 {
				return 0
			}
			ratio *= a / b
		case string:
			parts := strings.SplitN(pair, ":", 2)
			if len(parts) != 2 {
				return 0
			}
			a, errA := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
			b, errB := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
			if errA != nil || errB != nil || b == 0 {
				return 0
			}
			ratio *= a / b
		default:
			return 0
		}
	}
	return ratio
}

func numField(m map[string]any, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

// buildMetadata assembles the immutable metadata block written at
// session start.
func (e *Engine) buildMetadata(zaxis session.ZAxisMeta, reader *sensors.Reader) session.RunMetadata {
	cfg := e.cfg
	commands := map[string]string{}
	for name, script := range map[string]string{
		"home":           cfg.Commands.Home,
		"level":          cfg.Commands.Level,
		"mesh_calibrate": cfg.Commands.MeshCalibrate,
		"mesh_clear":     cfg.Commands.MeshClear,
		"measure":        cfg.Commands.Measure,
		"frame_comp_off": cfg.Commands.FrameCompOff,
		"frame_comp_on":  cfg.Commands.FrameCompOn,
	} {
		if script != "" {
			commands[name] = script
		}
	}

	return session.RunMetadata{
		User: session.UserMeta{
			ID:          cfg.User.ID,
			Printer:     cfg.User.PrinterModel,
			HomeType:    cfg.User.HomeType,
			MeasureType: cfg.User.ProbeType,
			Backers:     cfg.User.Backers,
			XRails:      cfg.User.XRails,
			Notes:       cfg.User.Notes,
			Timestamp:   e.start.Format("2006-01-02_15-04-05"),
		},
		Script: session.ScriptMeta{
			DataStructure:         session.DataStructureVersion,
			BedTarget:             cfg.Temperatures.BedTarget,
			ExtruderTarget:        cfg.Temperatures.ExtruderTarget,
			SoakMinutes:           cfg.Timing.SoakDuration.Std().Minutes(),
			HotDurationHours:      cfg.Timing.HotDuration.Std().Hours(),
			CoolDurationHours:     cfg.Timing.CoolDuration.Std().Hours(),
			SampleIntervalSeconds: cfg.Timing.SampleInterval.Std().Seconds(),
			Commands:              commands,
			Sensors:               reader.Objects(),
		},
		ZAxis: zaxis,
	}
}

// statusMatrix extracts a 2D float grid from a queried object field.
func statusMatrix(status moonraker.Status, object, field string) [][]float64 {
	fields, ok := status[object]
	if !ok {
		return nil
	}
	rows, ok := fields[field].([]any)
	if !ok {
		return nil
	}
	matrix := make([][]float64, 0, len(rows))
	for _, r := range rows {
		cells, ok := r.([]any)
		if !ok {
			return nil
		}
		row := make([]float64, 0, len(cells))
		for _, c := range cells {
			f, ok := c.(float64)
			if !ok {
				return nil
			}
			row = append(row, f)
		}
		matrix = append(matrix, row)
	}
	return matrix
}

// statusPair extracts a two-element coordinate from a queried field.
func statusPair(status moonraker.Status, object, field string) ([2]float64, bool) {
	var pair [2]float64
	fields, ok := status[object]
	if !ok {
		return pair, false
	}
	arr, ok := fields[field].([]any)
	if !ok || len(arr) != 2 {
		return pair, false
	}
	for i := range pair {
		f, ok := arr[i].(float64)
		if !ok {
			return pair, false
		}
		pair[i] = f
	}
	return pair, true
}
