// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package audit keeps the audit trail of record changes in a postgres table
package audit

import (
	"context"
	"time"

	"github.com/relabs-tech/granja/core"
	"github.com/relabs-tech/granja/core/csql"
	"github.com/relabs-tech/granja/core/notify"
)

// TableName is the name of the audit table
const TableName = "_audit_"

// Entry is one row of the audit trail
type Entry struct {
	Serial    int64
	Resource  string
	Operation core.Operation
	RecordID  string
	Identity  string
	RequestID string
	Payload   []byte
	CreatedAt time.Time
}

// Trail is a notification sink which inserts every notification into the audit table
type Trail struct {
	db    *csql.DB
	table string
}

// New creates the audit table if it does not exist yet
func New(ctx context.Context, db *csql.DB) (*Trail, error) {
	t := &Trail{db: db, table: db.Table(TableName)}
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+t.table+`
(serial BIGSERIAL,
resource VARCHAR NOT NULL,
operation VARCHAR NOT NULL,
record_id VARCHAR NOT NULL,
identity VARCHAR NOT NULL,
request_id VARCHAR NOT NULL,
payload JSON NOT NULL,
created_at TIMESTAMP NOT NULL,
PRIMARY KEY(serial)
);
CREATE INDEX IF NOT EXISTS audit_record_index ON `+t.table+`(resource, record_id);`)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Name implements notify.Sink
func (t *Trail) Name() string { return "audit" }

// Send implements notify.Sink
func (t *Trail) Send(ctx context.Context, n notify.Notification) error {
	_, err := t.db.ExecContext(ctx, `INSERT INTO `+t.table+`
(resource, operation, record_id, identity, request_id, payload, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7);`,
		n.Resource, string(n.Operation), n.RecordID, n.Identity, n.RequestID, []byte(n.Payload), n.CreatedAt)
	return err
}

// History returns the audit entries of a record, oldest first
func (t *Trail) History(ctx context.Context, resource, recordID string) ([]Entry, error) {
	rows, err := t.db.QueryContext(ctx, `SELECT serial, resource, operation, record_id, identity, request_id, payload, created_at
FROM `+t.table+` WHERE resource = $1 AND record_id = $2 ORDER BY serial;`, resource, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var op string
		if err := rows.Scan(&e.Serial, &e.Resource, &op, &e.RecordID, &e.Identity, &e.RequestID, &e.Payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Operation = core.Operation(op)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
