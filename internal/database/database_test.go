package database

import (
	"path/filepath"
	"testing"
	"time"
)

func TestOpen_Drivers(t *testing.T) {
	for _, driver := range []string{"sqlite3", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			db, err := Open(driver, filepath.Join(t.TempDir(), "nested", "test.db"))
			if err != nil {
				t.Fatalf("Open(%s) error: %v", driver, err)
			}
			defer db.Close()

			if _, err := db.Exec(`CREATE TABLE t (v TEXT)`); err != nil {
				t.Fatalf("create table: %v", err)
			}
			if _, err := db.Exec(`INSERT INTO t (v) VALUES (?)`, "x"); err != nil {
				t.Fatalf("insert: %v", err)
			}
			var got string
			if err := db.QueryRow(`SELECT v FROM t`).Scan(&got); err != nil {
				t.Fatalf("select: %v", err)
			}
			if got != "x" {
				t.Errorf("v = %q, want %q", got, "x")
			}
		})
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	if _, err := Open("postgres", filepath.Join(t.TempDir(), "x.db")); err == nil {
		t.Fatal("Open with unknown driver should error")
	}
}

func TestTimeRoundTrip(t *testing.T) {
	want := time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC)
	got, err := ParseTime(FormatTime(want))
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(want) {
		t.Errorf("ParseTime(FormatTime(t)) = %v, want %v", got, want)
	}

	zero, err := ParseTime("")
	if err != nil || !zero.IsZero() {
		t.Errorf("ParseTime(\"\") = %v, %v; want zero, nil", zero, err)
	}
}
