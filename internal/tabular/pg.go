package tabular

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PG implements Store on PostgreSQL. Every logical sheet lives in three
// generic tables: sheet_schemas (column order), sheet_rows (JSONB payloads
// in append order) and sheet_sequences (id counters). Statement-level
// transactions give the same serialization the bounded lock provides for
// the in-memory store.
type PG struct {
	db *sql.DB
}

var _ Store = (*PG)(nil)

// NewPG wraps an open database handle (pgx stdlib driver).
func NewPG(db *sql.DB) *PG {
	return &PG{db: db}
}

// DDL creates the backing tables. Executed by cmd/bootstrap.
const DDL = `
create table if not exists sheet_schemas (
	sheet   text primary key,
	headers jsonb not null
);
create table if not exists sheet_rows (
	pos   bigserial primary key,
	sheet text not null,
	data  jsonb not null
);
create index if not exists sheet_rows_sheet_idx on sheet_rows (sheet, pos);
create table if not exists sheet_sequences (
	prefix text not null,
	sheet  text not null,
	value  bigint not null,
	primary key (prefix, sheet)
);
`

// CreateTables executes the DDL.
func (s *PG) CreateTables(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, DDL)
	return err
}

func (s *PG) EnsureSchema(ctx context.Context, table string, headers []string) error {
	payload, err := json.Marshal(headers)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into sheet_schemas (sheet, headers)
		values ($1, $2)
		on conflict (sheet) do nothing
	`, table, payload)
	return err
}

func (s *PG) ListRows(ctx context.Context, table string) ([]Record, error) {
	if err := s.checkTable(ctx, table); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		select data from sheet_rows where sheet = $1 order by pos
	`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		rec := Record{}
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("decode row of %s: %w", table, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PG) AppendRow(ctx context.Context, table string, rec Record) error {
	if err := s.checkTable(ctx, table); err != nil {
		return err
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into sheet_rows (sheet, data) values ($1, $2)
	`, table, payload)
	return err
}

func (s *PG) UpdateRowByKey(ctx context.Context, table, keyField, keyValue string, patch Record) (bool, error) {
	if err := s.checkTable(ctx, table); err != nil {
		return false, err
	}
	payload, err := json.Marshal(patch)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `
		update sheet_rows set data = data || $4::jsonb
		where pos = (
			select pos from sheet_rows
			where sheet = $1 and data->>$2 = $3
			order by pos limit 1
		)
	`, table, keyField, keyValue, payload)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *PG) UpdateRowMatching(ctx context.Context, table string, match, patch Record) (bool, error) {
	if err := s.checkTable(ctx, table); err != nil {
		return false, err
	}
	matchJSON, err := json.Marshal(match)
	if err != nil {
		return false, err
	}
	patchJSON, err := json.Marshal(patch)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `
		update sheet_rows set data = data || $3::jsonb
		where pos = (
			select pos from sheet_rows
			where sheet = $1 and data @> $2::jsonb
			order by pos limit 1
		)
	`, table, matchJSON, patchJSON)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *PG) NextSequence(ctx context.Context, prefix, table string) (uint64, error) {
	var value uint64
	err := s.db.QueryRowContext(ctx, `
		insert into sheet_sequences (prefix, sheet, value)
		values ($1, $2, 1)
		on conflict (prefix, sheet)
		do update set value = sheet_sequences.value + 1
		returning value
	`, prefix, table).Scan(&value)
	if err != nil {
		return 0, err
	}
	return value, nil
}

func (s *PG) checkTable(ctx context.Context, table string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `
		select 1 from sheet_schemas where sheet = $1
	`, table).Scan(&one)
	if err == sql.ErrNoRows {
		return ErrUnknownTable
	}
	return err
}
