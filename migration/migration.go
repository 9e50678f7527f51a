/*************************************************************************
 * Copyright 2018 The Linehaul Authors. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * Apache 2.0 license. See the LICENSE file for details.
 **************************************************************************/

// Package migration checks a desired analytics table schema against the
// currently deployed one and applies it when the change is backward
// compatible.
package migration

import (
	"context"
	"fmt"

	"github.com/pypi/linehaul/log"
	"github.com/pypi/linehaul/sink"
)

// IncompatibleError reports a schema change the table cannot absorb.
type IncompatibleError struct {
	Reason string
}

func (e *IncompatibleError) Error() string {
	return "incompatible schema: " + e.Reason
}

func incompatible(f string, args ...interface{}) error {
	return &IncompatibleError{Reason: fmt.Sprintf(f, args...)}
}

// Validate walks the existing and desired column lists pairwise and
// reports the first backward incompatible difference.  RECORD columns are
// compared by the same rules recursively.
func Validate(existing, desired []sink.Column) error {
	for i := 0; i < len(existing) || i < len(desired); i++ {
		if i >= len(desired) {
			return incompatible("cannot remove column %q", existing[i].Name)
		}
		want := desired[i]
		if i >= len(existing) {
			if want.Mode != "NULLABLE" && want.Mode != "REPEATED" {
				return incompatible("cannot add non NULLABLE/REPEATED column %q to existing schema", want.Name)
			}
			continue
		}
		have := existing[i]
		if have.Name != want.Name {
			return incompatible("found column named %q when expected column named %q", want.Name, have.Name)
		}
		if have.Type != want.Type {
			return incompatible("cannot change type of column %q from %q to %q", have.Name, have.Type, want.Type)
		}
		if have.Mode != want.Mode && !(have.Mode == "REQUIRED" && want.Mode == "NULLABLE") {
			return incompatible("cannot change mode of column %q except from REQUIRED to NULLABLE", have.Name)
		}
		if have.Type == "RECORD" {
			if err := Validate(have.Fields, want.Fields); err != nil {
				return err
			}
		}
	}
	return nil
}

// Migrate fetches the table's current schema, validates the delta when one
// exists, and applies the desired schema.
func Migrate(ctx context.Context, s sink.AnalyticsSink, lg *log.Logger, table string, desired []sink.Column) error {
	lg.Info("fetching existing schema", log.KV("table", table))
	current, err := s.GetSchema(ctx, table)
	if err != nil {
		return fmt.Errorf("failed to fetch schema for %s: %w", table, err)
	}
	if current != nil {
		lg.Info("found existing schema, validating delta", log.KV("table", table))
		if err := Validate(current, desired); err != nil {
			return err
		}
	}
	lg.Info("updating schema", log.KV("table", table))
	if err := s.UpdateSchema(ctx, table, desired); err != nil {
		return fmt.Errorf("failed to update schema for %s: %w", table, err)
	}
	lg.Info("schema updated", log.KV("table", table))
	return nil
}
