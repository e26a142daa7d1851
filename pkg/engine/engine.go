// Package engine drives a complete thermal drift measurement session:
// home, level, heat, soak, timed hot sampling, cooldown. It owns the
// phase sequence, the bounded waits and the safety cleanup; all printer
// interaction goes through the Controller interface.
//
// Copyright (C) 2026  Gantry Drift Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package engine

import (
	"context"
	"fmt"
	"time"

	"gantry-drift/pkg/config"
	gderr "gantry-drift/pkg/errors"
	"gantry-drift/pkg/log"
	"gantry-drift/pkg/metrics"
	"gantry-drift/pkg/moonraker"
	"gantry-drift/pkg/sensors"
	"gantry-drift/pkg/session"
)

const (
	heatingPollInterval = 5 * time.Second
	preHeatFeedrate     = 600
	cleanupTimeout      = 30 * time.Second
)

// Controller is the control-plane surface the engine drives. It is
// satisfied by *moonraker.Client; tests substitute a fake printer.
type Controller interface {
	RunScript(ctx context.Context, script string) error
	QueryObjects(ctx context.Context, objects map[string][]string) (moonraker.Status, error)
	ListObjects(ctx context.Context) ([]string, error)
	SetHeaterTarget(ctx context.Context, heater string, target float64) error
	WaitForIdle(ctx context.Context, timeout time.Duration) error
}

// Engine runs one measurement session as a single sequential control
// loop: one phase at a time, one outstanding printer command at a time.
type Engine struct {
	cfg     *config.Config
	ctrl    Controller
	clock   Clock
	logger  *log.Logger
	metrics *metrics.Metrics

	reader   *sensors.Reader
	recorder *session.Recorder

	phase Phase
	start time.Time
	zaxis session.ZAxisMeta

	// started flips once the first motion phase begins; cleanup only
	// touches the printer when something was actually commanded.
	started           bool
	frameCompDisabled bool
}

// New creates an engine in the Init phase.
func New(cfg *config.Config, ctrl Controller, logger *log.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		ctrl:   ctrl,
		clock:  systemClock{},
		logger: logger,
		phase:  PhaseInit,
	}
}

// SetClock replaces the time source. Used by tests.
func (e *Engine) SetClock(c Clock) {
	e.clock = c
}

// SetMetrics attaches instrumentation. A nil Metrics is valid.
func (e *Engine) SetMetrics(m *metrics.Metrics) {
	e.metrics = m
}

// Phase returns the current phase.
func (e *Engine) Phase() Phase {
	return e.phase
}

// OutputPath returns the session record path, or "" before Init
// completes.
func (e *Engine) OutputPath() string {
	if e.recorder == nil {
		return ""
	}
	return e.recorder.Path()
}

// Run executes the full session. On every exit route, success or
// failure, the safety cleanup disables heaters, restores frame
// compensation and finalizes the session record, so an abort still
// leaves a usable partial dataset.
func (e *Engine) Run(ctx context.Context) error {
	err := e.run(ctx)
	if err != nil {
		e.setPhase(PhaseAborted)
		e.logger.ErrorFields("session aborted", log.Fields{"error": err.Error()})
	} else {
		e.setPhase(PhaseDone)
		e.logger.Info("session complete")
	}
	e.cleanup()
	return err
}

func (e *Engine) run(ctx context.Context) error {
	e.start = e.clock.Now()

	if err := e.init(ctx); err != nil {
		return err
	}

	if err := e.transition(PhaseHome); err != nil {
		return err
	}
	e.started = true
	if err := e.execAndIdle(ctx, e.cfg.Commands.Home); err != nil {
		return err
	}

	if e.cfg.Commands.Level != "" {
		if err := e.transition(PhaseQuadLevel); err != nil {
			return err
		}
		if err := e.execAndIdle(ctx, e.cfg.Commands.Level); err != nil {
			return err
		}
	}

	if err := e.transition(PhaseReHome); err != nil {
		return err
	}
	if err := e.execAndIdle(ctx, e.cfg.Commands.Home); err != nil {
		return err
	}

	if err := e.transition(PhasePreHeatPosition); err != nil {
		return err
	}
	if err := e.moveToSafeHeight(ctx); err != nil {
		return err
	}

	if err := e.transition(PhaseHeating); err != nil {
		return err
	}
	if err := e.heat(ctx); err != nil {
		return err
	}

	if err := e.transition(PhaseSoak); err != nil {
		return err
	}
	if err := e.sleep(ctx, e.cfg.Timing.SoakDuration.Std()); err != nil {
		return err
	}

	if err := e.transition(PhaseHotMeasure); err != nil {
		return err
	}
	if err := e.takeMeshSnapshot(ctx); err != nil {
		return err
	}
	if _, err := e.runSampler(ctx, PhaseHotMeasure, e.cfg.Timing.HotDuration.Std()); err != nil {
		return err
	}
	if err := e.takeMeshSnapshot(ctx); err != nil {
		return err
	}

	if err := e.transition(PhaseCoolMeasure); err != nil {
		return err
	}
	if err := e.heatersOff(ctx); err != nil {
		return err
	}
	if cool := e.cfg.Timing.CoolDuration.Std(); cool > 0 {
		if _, err := e.runSampler(ctx, PhaseCoolMeasure, cool); err != nil {
			return err
		}
	}

	return nil
}

// init resolves sensors, gathers Z-axis facts from the printer config
// and opens the session record. It issues status queries only; the
// first motion command happens after Init succeeds.
func (e *Engine) init(ctx context.Context) error {
	reader, err := sensors.Resolve(ctx, e.ctrl, e.cfg, e.logger)
	if err != nil {
		return err
	}
	e.reader = reader

	zaxis, err := e.gatherZAxis(ctx)
	if err != nil {
		return err
	}

	recorder, err := session.NewRecorder(e.cfg.OutputDir, e.buildMetadata(zaxis, reader), e.start)
	if err != nil {
		return err
	}
	e.recorder = recorder
	e.zaxis = zaxis

	e.logger.InfoFields("session initialized", log.Fields{
		"output":  recorder.Path(),
		"sensors": len(reader.Keys()),
		"max_z":   zaxis.MaxZ,
	})
	return nil
}

func (e *Engine) execAndIdle(ctx context.Context, script string) error {
	e.logger.InfoFields("executing", log.Fields{
		"phase":  e.phase.String(),
		"script": script,
	})
	if err := e.ctrl.RunScript(ctx, script); err != nil {
		return err
	}
	return e.ctrl.WaitForIdle(ctx, e.cfg.Timing.IdleTimeout.Std())
}

// moveToSafeHeight parks the toolhead at a percentage of max Z travel
// so the hotend sits away from the bed while it heats.
func (e *Engine) moveToSafeHeight(ctx context.Context) error {
	safeZ := e.zaxis.MaxZ * e.cfg.SafeHeightPercent / 100
	script := fmt.Sprintf("G90\nG1 Z%.1f F%d", safeZ, preHeatFeedrate)
	return e.execAndIdle(ctx, script)
}

// heat sets the heater targets, optionally disables frame compensation
// for the duration of the run, and waits until the bed is within
// tolerance of target. A bed that never gets there within the heating
// timeout aborts the session.
func (e *Engine) heat(ctx context.Context) error {
	if e.cfg.Commands.FrameCompOff != "" {
		if err := e.ctrl.RunScript(ctx, e.cfg.Commands.FrameCompOff); err != nil {
			return err
		}
		e.frameCompDisabled = true
	}

	target := e.cfg.Temperatures.BedTarget
	if err := e.ctrl.SetHeaterTarget(ctx, "heater_bed", target); err != nil {
		return err
	}
	if he := e.cfg.Temperatures.ExtruderTarget; he > 0 {
		if err := e.ctrl.SetHeaterTarget(ctx, "extruder", he); err != nil {
			return err
		}
	}

	tolerance := e.cfg.Temperatures.Tolerance
	var last float64
	reached, err := e.waitUntil(ctx, e.cfg.Timing.HeatingTimeout.Std(), heatingPollInterval,
		func(ctx context.Context) (bool, error) {
			status, qErr := e.ctrl.QueryObjects(ctx, map[string][]string{
				"heater_bed": {"temperature"},
			})
			if qErr != nil {
				return false, qErr
			}
			temp, ok := status.Float("heater_bed", "temperature")
			if !ok {
				return false, nil
			}
			last = temp
			e.metrics.SetBedTemp(temp)
			return temp >= target-tolerance, nil
		})
	if err != nil {
		return err
	}
	if !reached {
		return gderr.HeatingTimeoutError("heater_bed", target, last)
	}

	e.logger.InfoFields("bed at target", log.Fields{
		"target":  target,
		"reading": last,
	})
	return nil
}

// takeMeshSnapshot clears any loaded mesh, runs a full calibration and
// records the probed matrix with its grid bounds.
func (e *Engine) takeMeshSnapshot(ctx context.Context) error {
	if e.cfg.Commands.MeshClear != "" {
		if err := e.ctrl.RunScript(ctx, e.cfg.Commands.MeshClear); err != nil {
			return err
		}
	}
	if err := e.execAndIdle(ctx, e.cfg.Commands.MeshCalibrate); err != nil {
		return err
	}

	status, err := e.ctrl.QueryObjects(ctx, map[string][]string{
		"bed_mesh": {"probed_matrix", "mesh_min", "mesh_max"},
	})
	if err != nil {
		return err
	}

	matrix := statusMatrix(status, "bed_mesh", "probed_matrix")
	if len(matrix) == 0 {
		return gderr.APIError("objects/query", "bed_mesh reported no probed matrix after calibration")
	}
	meshMin, okMin := statusPair(status, "bed_mesh", "mesh_min")
	meshMax, okMax := statusPair(status, "bed_mesh", "mesh_max")
	if !okMin || !okMax {
		return gderr.APIError("objects/query", "bed_mesh reported no mesh bounds")
	}

	snap := session.NewMeshSnapshot(e.phase.String(), e.clock.Now(), meshMin, meshMax, matrix)
	if err := e.recorder.RecordMesh(snap); err != nil {
		return err
	}
	e.metrics.ObserveSnapshot()

	e.logger.InfoFields("mesh snapshot recorded", log.Fields{
		"phase": e.phase.String(),
		"rows":  len(matrix),
		"cols":  len(matrix[0]),
	})
	return nil
}

func (e *Engine) heatersOff(ctx context.Context) error {
	if err := e.ctrl.SetHeaterTarget(ctx, "heater_bed", 0); err != nil {
		return err
	}
	return e.ctrl.SetHeaterTarget(ctx, "extruder", 0)
}

// cleanup is the unconditional safety path: heaters off, frame
// compensation restored, session record finalized. Runs on every exit
// route with a fresh bounded context so an operator abort cannot skip
// it. Failures here are logged, never propagated.
func (e *Engine) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	if e.started {
		if err := e.heatersOff(ctx); err != nil {
			e.logger.ErrorFields("unable to disable heaters", log.Fields{"error": err.Error()})
		}
		if e.frameCompDisabled && e.cfg.Commands.FrameCompOn != "" {
			if err := e.ctrl.RunScript(ctx, e.cfg.Commands.FrameCompOn); err != nil {
				e.logger.ErrorFields("unable to restore frame compensation", log.Fields{"error": err.Error()})
			} else {
				e.frameCompDisabled = false
			}
		}
	}

	if e.recorder != nil {
		path, err := e.recorder.Finalize()
		if err != nil {
			e.logger.ErrorFields("unable to finalize session record", log.Fields{"error": err.Error()})
		} else {
			e.logger.InfoFields("session record finalized", log.Fields{"path": path})
		}
	}
}

// transition moves to the next phase, enforcing the forward-only table.
func (e *Engine) transition(to Phase) error {
	if !canTransition(e.phase, to) {
		return gderr.Newf(gderr.ErrAbort, "illegal phase transition %s -> %s", e.phase, to)
	}
	e.setPhase(to)
	return nil
}

func (e *Engine) setPhase(p Phase) {
	e.logger.InfoFields("phase", log.Fields{"from": e.phase.String(), "to": p.String()})
	e.phase = p
	e.metrics.SetPhase(int(p))
}

// sleep blocks for d, observing cancellation. Interrupts surface as a
// session abort so the cleanup path runs.
func (e *Engine) sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return gderr.Wrap(err, gderr.ErrAbort, "wait interrupted")
	}
	select {
	case <-ctx.Done():
		return gderr.Wrap(ctx.Err(), gderr.ErrAbort, "wait interrupted")
	case <-e.clock.After(d):
		return nil
	}
}

// waitUntil polls cond at the given interval until it reports true, the
// timeout elapses or the context is cancelled. Returns whether the
// condition was reached; a timeout is not an error here, the caller
// decides what it means.
func (e *Engine) waitUntil(ctx context.Context, timeout, interval time.Duration,
	cond func(context.Context) (bool, error)) (bool, error) {

	deadline := e.clock.Now().Add(timeout)
	for {
		ok, err := cond(ctx)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		if !e.clock.Now().Before(deadline) {
			return false, nil
		}
		if err := e.sleep(ctx, interval); err != nil {
			return false, err
		}
	}
}
