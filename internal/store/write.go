package store

import (
	"context"
	"fmt"

	"github.com/roach88/classwatch/internal/ir"
)

// RecordAction inserts an action record. Duplicate IDs are ignored.
func (s *Store) RecordAction(ctx context.Context, rec ir.ActionRecord) error {
	input, err := marshalObject(rec.Input)
	if err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	output, err := marshalOutput(rec.Output)
	if err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	digest, err := ir.RecordDigest(rec)
	if err != nil {
		return fmt.Errorf("write record: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO records
		(id, flow, provider, operation, input, output, seq, at_ns, digest)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		rec.ID,
		rec.Flow,
		rec.Provider,
		rec.Operation,
		input,
		output,
		rec.Seq,
		rec.At.UnixNano(),
		digest,
	)
	if err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

// RecordFiring inserts a rule firing. A second firing of the same effect key
// in a flow is ignored, mirroring the engine's emitted-set.
func (s *Store) RecordFiring(ctx context.Context, f ir.Firing) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO firings
		(flow, rule, effect_key, record_id, seq, error)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(flow, effect_key) DO NOTHING
	`,
		f.Flow,
		f.Rule,
		f.EffectKey,
		nullString(f.RecordID),
		f.Seq,
		nullString(f.Error),
	)
	if err != nil {
		return fmt.Errorf("write firing: %w", err)
	}
	return nil
}
