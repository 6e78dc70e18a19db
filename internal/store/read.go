package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/classwatch/internal/ir"
)

// FlowSummary describes one flow in the trace.
type FlowSummary struct {
	Flow    string
	Records int
	Firings int
	First   time.Time
	Last    time.Time
}

// ReadFlow returns the records of a flow ordered by seq ASC, id ASC.
// Handles come back as {"$ref": "kind:id"} objects and long byte values as
// placeholders. Returns an empty slice (not nil) for an unknown flow.
func (s *Store) ReadFlow(ctx context.Context, flow string) ([]ir.ActionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, flow, provider, operation, input, output, seq, at_ns
		FROM records
		WHERE flow = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, flow)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	records := []ir.ActionRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

// ReadRecord retrieves a single record by ID.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadRecord(ctx context.Context, id string) (ir.ActionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, flow, provider, operation, input, output, seq, at_ns
		FROM records
		WHERE id = ?
	`, id)
	return scanRecord(row)
}

// ReadFirings returns the firings of a flow ordered by seq ASC, id ASC.
func (s *Store) ReadFirings(ctx context.Context, flow string) ([]ir.Firing, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT rule, flow, effect_key, record_id, seq, error
		FROM firings
		WHERE flow = ?
		ORDER BY seq ASC, id ASC
	`, flow)
	if err != nil {
		return nil, fmt.Errorf("query firings: %w", err)
	}
	defer rows.Close()

	firings := []ir.Firing{}
	for rows.Next() {
		var f ir.Firing
		var recordID, errMsg sql.NullString
		if err := rows.Scan(&f.Rule, &f.Flow, &f.EffectKey, &recordID, &f.Seq, &errMsg); err != nil {
			return nil, fmt.Errorf("scan firing: %w", err)
		}
		f.RecordID = recordID.String
		f.Error = errMsg.String
		firings = append(firings, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate firings: %w", err)
	}
	return firings, nil
}

// ListFlows summarizes every flow, most recent first. limit <= 0 lists all.
func (s *Store) ListFlows(ctx context.Context, limit int) ([]FlowSummary, error) {
	query := `
		SELECT r.flow, COUNT(*), MIN(r.at_ns), MAX(r.at_ns), MAX(r.seq),
			(SELECT COUNT(*) FROM firings f WHERE f.flow = r.flow)
		FROM records r
		GROUP BY r.flow
		ORDER BY MAX(r.seq) DESC, r.flow COLLATE BINARY ASC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query flows: %w", err)
	}
	defer rows.Close()

	flows := []FlowSummary{}
	for rows.Next() {
		var sum FlowSummary
		var first, last, maxSeq int64
		if err := rows.Scan(&sum.Flow, &sum.Records, &first, &last, &maxSeq, &sum.Firings); err != nil {
			return nil, fmt.Errorf("scan flow: %w", err)
		}
		sum.First = time.Unix(0, first).UTC()
		sum.Last = time.Unix(0, last).UTC()
		flows = append(flows, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate flows: %w", err)
	}
	return flows, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (ir.ActionRecord, error) {
	var rec ir.ActionRecord
	var input string
	var output sql.NullString
	var atNS int64
	if err := row.Scan(&rec.ID, &rec.Flow, &rec.Provider, &rec.Operation, &input, &output, &rec.Seq, &atNS); err != nil {
		if err == sql.ErrNoRows {
			return ir.ActionRecord{}, err
		}
		return ir.ActionRecord{}, fmt.Errorf("scan record: %w", err)
	}

	var err error
	if rec.Input, err = unmarshalObject(input); err != nil {
		return ir.ActionRecord{}, err
	}
	if output.Valid {
		if rec.Output, err = unmarshalObject(output.String); err != nil {
			return ir.ActionRecord{}, err
		}
	}
	rec.At = time.Unix(0, atNS).UTC()
	return rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
