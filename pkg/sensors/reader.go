// Sensor set resolution and batched temperature reads
//
// Copyright (C) 2026  Gantry Drift Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package sensors

import (
	"context"
	"sort"

	"gantry-drift/pkg/config"
	gderr "gantry-drift/pkg/errors"
	"gantry-drift/pkg/log"
	"gantry-drift/pkg/moonraker"
)

// StatusClient is the part of the control-plane client the reader needs.
type StatusClient interface {
	ListObjects(ctx context.Context) ([]string, error)
	QueryObjects(ctx context.Context, objects map[string][]string) (moonraker.Status, error)
}

// Readings maps a sensor key to its current temperature. A nil value
// means the reading was unavailable for this sample.
type Readings map[string]*float64

// Reader resolves the configured sensor keys to status objects once at
// startup and serves batched reads for the sampler. The key set is fixed
// for the lifetime of the session.
type Reader struct {
	client  StatusClient
	objects map[string]string // key -> status object name
	keys    []string          // sorted, stable order
	logger  *log.Logger
}

// Resolve validates every configured sensor key against the printer's
// object list. An unresolvable key is a configuration error and fails the
// session before any motion command is issued.
func Resolve(ctx context.Context, client StatusClient, cfg *config.Config, logger *log.Logger) (*Reader, error) {
	available, err := client.ListObjects(ctx)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(available))
	for _, name := range available {
		known[name] = true
	}

	objects := cfg.SensorObjects()
	keys := make([]string, 0, len(objects))
	for key, object := range objects {
		if !known[object] {
			return nil, gderr.ConfigErrorf(
				"sensor %q resolves to unknown printer object %q", key, object)
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	logger.InfoFields("sensors resolved", log.Fields{"count": len(keys)})
	return &Reader{
		client:  client,
		objects: objects,
		keys:    keys,
		logger:  logger,
	}, nil
}

// Keys returns the sensor keys in stable sorted order.
func (r *Reader) Keys() []string {
	return r.keys
}

// Objects returns the key -> object mapping (for metadata echo).
func (r *Reader) Objects() map[string]string {
	return r.objects
}

// ReadAll fetches every configured sensor in one batched query. A key
// whose object or temperature field is missing from the response gets a
// nil reading rather than failing the sample; only a failure of the whole
// batched query (after the client's retries) is returned as an error.
func (r *Reader) ReadAll(ctx context.Context) (Readings, error) {
	query := make(map[string][]string, len(r.objects))
	for _, object := range r.objects {
		query[object] = []string{"temperature"}
	}

	status, err := r.client.QueryObjects(ctx, query)
	if err != nil {
		return nil, err
	}

	readings := make(Readings, len(r.keys))
	for _, key := range r.keys {
		object := r.objects[key]
		if temp, ok := status.Float(object, "temperature"); ok {
			t := temp
			readings[key] = &t
		} else {
			r.logger.WarnFields("sensor reading unavailable", log.Fields{
				"sensor": key,
				"object": object,
			})
			readings[key] = nil
		}
	}
	return readings, nil
}
