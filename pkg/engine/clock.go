// Copyright (C) 2026  Gantry Drift Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package engine

import "time"

// Clock abstracts time so phase durations and sampling cadence can be
// tested without real waiting. Elapsed-time arithmetic always goes
// through the same Clock, never through wall-clock reads scattered
// around the code.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
