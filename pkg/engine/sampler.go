// Fixed-interval sampling loop for the measurement phases
//
// Copyright (C) 2026  Gantry Drift Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package engine

import (
	"context"
	"time"

	"gantry-drift/pkg/config"
	"gantry-drift/pkg/log"
	"gantry-drift/pkg/session"
)

// runSampler takes one sample per configured interval until the phase
// duration elapses. Cadence is best effort: when one iteration's work
// exceeds the interval, the next tick fires immediately and missed
// ticks are never stacked. An in-progress sample always completes
// before the exit condition is evaluated. Returns the number of samples
// recorded.
func (e *Engine) runSampler(ctx context.Context, phase Phase, duration time.Duration) (int, error) {
	interval := e.cfg.Timing.SampleInterval.Std()
	phaseStart := e.clock.Now()
	count := 0

	e.logger.InfoFields("sampling", log.Fields{
		"phase":    phase.String(),
		"duration": duration.String(),
		"interval": interval.String(),
	})

	for {
		if e.clock.Now().Sub(phaseStart) >= duration {
			return count, nil
		}

		tickStart := e.clock.Now()
		if err := e.takeSample(ctx, phase); err != nil {
			return count, err
		}
		count++

		if e.clock.Now().Sub(phaseStart) >= duration {
			return count, nil
		}
		if remaining := interval - e.clock.Now().Sub(tickStart); remaining > 0 {
			if err := e.sleep(ctx, remaining); err != nil {
				return count, err
			}
		}
	}
}

// takeSample runs the measurement macro, waits for motion idle, reads
// the Z measurement and every configured sensor, and records one sample.
// A missing Z reading degrades to null; a failed control-plane call
// (after the client's own retries) aborts the sample and the session.
func (e *Engine) takeSample(ctx context.Context, phase Phase) error {
	if err := e.ctrl.RunScript(ctx, e.cfg.Commands.Measure); err != nil {
		return err
	}
	if err := e.ctrl.WaitForIdle(ctx, e.cfg.Timing.IdleTimeout.Std()); err != nil {
		return err
	}

	z, err := e.readZOffset(ctx)
	if err != nil {
		return err
	}
	readings, err := e.reader.ReadAll(ctx)
	if err != nil {
		return err
	}

	now := e.clock.Now()
	sample := session.Sample{
		Timestamp:      now,
		ElapsedSeconds: now.Sub(e.start).Seconds(),
		Phase:          phase.String(),
		ZOffset:        z,
		Sensors:        readings,
	}
	if err := e.recorder.RecordSample(sample); err != nil {
		return err
	}

	e.metrics.ObserveSample()
	e.metrics.SetElapsed(sample.ElapsedSeconds)
	if bed := readings[config.SensorKeyBed]; bed != nil {
		e.metrics.SetBedTemp(*bed)
	}
	if frame := readings[config.SensorKeyFrame]; frame != nil {
		e.metrics.SetFrameTemp(*frame)
	}

	fields := log.Fields{
		"phase":   phase.String(),
		"elapsed": sample.ElapsedSeconds,
	}
	if z != nil {
		fields["z_offset"] = *z
	}
	e.logger.InfoFields("sample recorded", fields)
	return nil
}

// readZOffset queries the configured status object for the per-sample Z
// measurement. A missing object or field yields nil rather than failing
// the sample.
func (e *Engine) readZOffset(ctx context.Context) (*float64, error) {
	zo := e.cfg.ZOffset
	status, err := e.ctrl.QueryObjects(ctx, map[string][]string{
		zo.Object: {zo.Field},
	})
	if err != nil {
		return nil, err
	}

	if v, ok := status.FloatIndex(zo.Object, zo.Field, zo.Index); ok {
		return &v, nil
	}
	if v, ok := status.Float(zo.Object, zo.Field); ok {
		return &v, nil
	}
	e.logger.WarnFields("z measurement unavailable", log.Fields{
		"object": zo.Object,
		"field":  zo.Field,
	})
	return nil, nil
}
