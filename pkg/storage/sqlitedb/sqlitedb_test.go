// Copyright 2026 © The Deskpilot Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitedb

import (
	"context"
	"path/filepath"
	"testing"
)

func TestOpenFileAndSchema(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "desk.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := Exec(ctx, db,
		`CREATE TABLE IF NOT EXISTS t (id TEXT PRIMARY KEY)`,
		`INSERT INTO t (id) VALUES ('a')`,
	); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM t`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row, got %d", n)
	}
}

func TestOpenMemory(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()
	if err := Exec(context.Background(), db, `CREATE TABLE x (a INTEGER)`, `INSERT INTO x VALUES (1)`); err != nil {
		t.Fatalf("Exec: %v", err)
	}
}

func TestTableName(t *testing.T) {
	if got, err := TableName("", "checkpoints"); err != nil || got != "checkpoints" {
		t.Fatalf("fallback = %q, %v", got, err)
	}
	if _, err := TableName("bad;drop", "x"); err == nil {
		t.Fatal("expected invalid name error")
	}
	if _, err := Open(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}
