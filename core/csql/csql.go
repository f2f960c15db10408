// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package csql opens the postgres database of the audit trail
package csql

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"

	"github.com/lib/pq"

	"github.com/relabs-tech/granja/core/logger"
)

// DB encapsulates a standard sql.DB with a schema
type DB struct {
	*sql.DB
	Schema string
}

var schemaPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// OpenWithSchema opens a postgres database with a schema. The password is passed
// separately, so that the connection string can be logged. The schema gets created
// if it does not exist yet.
func OpenWithSchema(ctx context.Context, dataSourceName, password, schema string) (*DB, error) {
	logger.Default().Infoln("connecting to postgres database: ", dataSourceName)
	if password != "" {
		dataSourceName += " password=" + password
	}
	db, err := sql.Open("postgres", dataSourceName)
	if err != nil {
		return nil, err
	}
	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if schema == "" {
		schema = "public"
	}
	if !schemaPattern.MatchString(schema) {
		db.Close()
		return nil, fmt.Errorf("invalid schema name '%s'", schema)
	}
	if schema != "public" {
		logger.Default().Infoln("selected database schema:", schema)
		if _, err = db.ExecContext(ctx, `CREATE SCHEMA IF NOT EXISTS `+pq.QuoteIdentifier(schema)+`;`); err != nil {
			db.Close()
			return nil, err
		}
	}
	return &DB{DB: db, Schema: schema}, nil
}

// MustOpenWithSchema is OpenWithSchema which panics on error
func MustOpenWithSchema(ctx context.Context, dataSourceName, password, schema string) *DB {
	db, err := OpenWithSchema(ctx, dataSourceName, password, schema)
	if err != nil {
		panic(err)
	}
	return db
}

// Table returns the qualified name of a table in the schema
func (db *DB) Table(name string) string {
	return pq.QuoteIdentifier(db.Schema) + "." + pq.QuoteIdentifier(name)
}

// ClearSchema clears all the data contained in the database's schema
// Technically this is done by dropping the schema and then recreating it
func (db *DB) ClearSchema(ctx context.Context) error {
	if db.Schema == "public" {
		return fmt.Errorf("refuse to drop public schema")
	}
	_, err := db.ExecContext(ctx, `DROP SCHEMA `+pq.QuoteIdentifier(db.Schema)+` CASCADE;
CREATE SCHEMA IF NOT EXISTS `+pq.QuoteIdentifier(db.Schema)+`;`)
	return err
}
