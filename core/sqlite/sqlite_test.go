package sqlite

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGetInfo(t *testing.T) {
	info := GetInfo()
	switch info.DriverType {
	case "purego":
		if info.DriverName != "sqlite" || info.Package != "modernc.org/sqlite" {
			t.Errorf("GetInfo() = %+v", info)
		}
	case "cgo":
		if info.DriverName != "sqlite3" || info.Package != "github.com/mattn/go-sqlite3" {
			t.Errorf("GetInfo() = %+v", info)
		}
	default:
		t.Fatalf("unknown driver type %q", info.DriverType)
	}
	if DriverName() != info.DriverName || DriverType() != info.DriverType {
		t.Error("DriverName/DriverType disagree with GetInfo")
	}
}

func TestOpenMemory(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(`CREATE TABLE t (v TEXT)`); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`INSERT INTO t VALUES (?)`, "merged"); err != nil {
		t.Fatal(err)
	}
	var v string
	if err := db.QueryRow(`SELECT v FROM t`).Scan(&v); err != nil {
		t.Fatal(err)
	}
	if v != "merged" {
		t.Errorf("got %q", v)
	}
}

func TestOpenFile(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")

	db, err := OpenFile(dbPath)
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	defer db.Close()

	var mode string
	if err := db.QueryRow(`PRAGMA journal_mode`).Scan(&mode); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if !strings.EqualFold(mode, "wal") {
		t.Errorf("journal_mode = %q, want wal", mode)
	}

	var fk int
	if err := db.QueryRow(`PRAGMA foreign_keys`).Scan(&fk); err != nil {
		t.Fatalf("foreign_keys: %v", err)
	}
	if fk != 1 {
		t.Errorf("foreign_keys = %d, want 1", fk)
	}

	var timeout int
	if err := db.QueryRow(`PRAGMA busy_timeout`).Scan(&timeout); err != nil {
		t.Fatalf("busy_timeout: %v", err)
	}
	if timeout != 5000 {
		t.Errorf("busy_timeout = %d, want 5000", timeout)
	}

	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("database file not created: %v", err)
	}
}

func TestOpenFileBadDirectory(t *testing.T) {
	if _, err := OpenFile(filepath.Join(t.TempDir(), "missing", "dir", "x.db")); err == nil {
		t.Error("OpenFile() in a missing directory should fail")
	}
}
