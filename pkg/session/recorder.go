// Durable session recorder
//
// Copyright (C) 2026  Gantry Drift Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	gderr "gantry-drift/pkg/errors"
)

// Recorder accumulates a SessionRecord and flushes the full document to
// disk after every record call, so a crash after N samples preserves all
// N. The flush is an atomic write-then-rename; readers never observe a
// truncated document.
type Recorder struct {
	mu        sync.Mutex
	record    SessionRecord
	path      string
	finalized bool
}

// NewRecorder creates a recorder for one session. The file name embeds
// the user id, a start timestamp and a short random token so successive
// or concurrent runs never collide.
func NewRecorder(dir string, meta RunMetadata, start time.Time) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, gderr.ConfigErrorf("unable to create output dir %s: %v", dir, err)
	}

	user := meta.User.ID
	if user == "" {
		user = "anonymous"
	}
	user = sanitizeToken(user)
	token := uuid.NewString()[:8]
	name := fmt.Sprintf("gantry_drift_%s_%s_%s.json",
		user, start.Format("2006-01-02_15-04-05"), token)

	r := &Recorder{
		record: SessionRecord{Metadata: meta},
		path:   filepath.Join(dir, name),
	}
	if err := r.flushLocked(); err != nil {
		return nil, err
	}
	return r, nil
}

func sanitizeToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}

// Path returns the output file path.
func (r *Recorder) Path() string {
	return r.path
}

// RecordSample appends one sample and flushes. Samples must arrive in
// strictly increasing elapsed order; a regression is a programming error
// in the caller and is rejected.
func (r *Recorder) RecordSample(s Sample) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return gderr.New(gderr.ErrAbort, "record after finalize")
	}
	if s.ElapsedSeconds < 0 {
		return gderr.Newf(gderr.ErrAbort, "sample elapsed %.3f is negative", s.ElapsedSeconds)
	}
	if n := len(r.record.Samples); n > 0 && s.ElapsedSeconds <= r.record.Samples[n-1].ElapsedSeconds {
		return gderr.Newf(gderr.ErrAbort,
			"sample elapsed %.3f not after previous %.3f",
			s.ElapsedSeconds, r.record.Samples[n-1].ElapsedSeconds)
	}

	r.record.Samples = append(r.record.Samples, s)
	return r.flushLocked()
}

// RecordMesh appends one mesh snapshot and flushes.
func (r *Recorder) RecordMesh(m MeshSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return gderr.New(gderr.ErrAbort, "record after finalize")
	}
	r.record.Meshes = append(r.record.Meshes, m)
	return r.flushLocked()
}

// Snapshot returns a copy of the current record (for tests and reports).
func (r *Recorder) Snapshot() SessionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.record
	rec.Samples = append([]Sample(nil), r.record.Samples...)
	rec.Meshes = append([]MeshSnapshot(nil), r.record.Meshes...)
	return rec
}

// Finalize closes the record for writes and returns the persisted path.
// Calling it again is a no-op returning the same path; the file content
// is unchanged byte for byte.
func (r *Recorder) Finalize() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return r.path, nil
	}
	if err := r.flushLocked(); err != nil {
		return "", err
	}
	r.finalized = true
	return r.path, nil
}

func (r *Recorder) flushLocked() error {
	data, err := json.MarshalIndent(&r.record, "", "  ")
	if err != nil {
		return gderr.Wrap(err, gderr.ErrAbort, "unable to encode session record")
	}
	data = append(data, '\n')

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return gderr.Wrap(err, gderr.ErrAbort, "unable to write session record")
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return gderr.Wrap(err, gderr.ErrAbort, "unable to commit session record")
	}
	return nil
}
