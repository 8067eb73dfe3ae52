// Package db provides embedded database schema and migration files.
package db

import _ "embed"

// Schema contains the DDL statements for all application tables.
//
//go:embed migrations/001_schema.sql
var Schema string

// GraphSchema installs Apache AGE and the functions that maintain the cart
// graph. It is only applied when the graph lives in PostgreSQL.
//
//go:embed migrations/002_graph.sql
var GraphSchema string
