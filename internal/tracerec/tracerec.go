// Package tracerec records emulation trace events into an SQLite
// database. Components publish typed event rows to a Recorder; the
// default recorder batches rows per table and flushes them on demand and
// at process exit. A Nop recorder is available for embedders that do not
// want tracing.
package tracerec

import (
	"database/sql"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/fatih/structs"

	// SQLite driver for the trace database.
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

// Recorder is a backend that can record and store trace events.
type Recorder interface {
	// CreateTable creates a new table for events shaped like sampleEntry.
	CreateTable(tableName string, sampleEntry any)

	// InsertData buffers one event row into an existing table.
	InsertData(tableName string, entry any)

	// Flush writes all buffered rows to the database.
	Flush()
}

// Nop is a Recorder that drops everything.
type Nop struct{}

func (Nop) CreateTable(string, any) {}
func (Nop) InsertData(string, any)  {}
func (Nop) Flush()                  {}

// NewSQLite creates a Recorder writing to path + ".sqlite3". If path is
// empty a unique name is generated.
func NewSQLite(path string) (Recorder, error) {
	w := &sqliteWriter{
		dbName:    path,
		batchSize: 4096,
		tables:    make(map[string]*table),
	}

	if err := w.init(); err != nil {
		return nil, err
	}

	atexit.Register(func() { w.Flush() })

	return w, nil
}

type table struct {
	structType reflect.Type
	entries    []any
}

// sqliteWriter is the writer that stores events in an SQLite database.
type sqliteWriter struct {
	db *sql.DB

	dbName    string
	tables    map[string]*table
	batchSize int
}

func (t *sqliteWriter) init() error {
	if t.dbName == "" {
		t.dbName = "gicv5_trace_" + xid.New().String()
	}

	filename := t.dbName + ".sqlite3"

	if _, err := os.Stat(filename); err == nil {
		return fmt.Errorf("tracerec: file %s already exists", filename)
	}

	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		return fmt.Errorf("tracerec: open %s: %w", filename, err)
	}

	t.db = db
	return nil
}

// CreateTable implements Recorder.
func (t *sqliteWriter) CreateTable(tableName string, sampleEntry any) {
	if _, exists := t.tables[tableName]; exists {
		panic(fmt.Errorf("tracerec: table %s already exists", tableName))
	}

	fields := structs.New(sampleEntry).Fields()
	columns := make([]string, 0, len(fields))
	for _, f := range fields {
		columns = append(columns, f.Name()+" "+sqlType(f.Kind()))
	}

	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s);",
		tableName, strings.Join(columns, ", "))
	if _, err := t.db.Exec(stmt); err != nil {
		panic(fmt.Errorf("tracerec: create table %s: %w", tableName, err))
	}

	t.tables[tableName] = &table{
		structType: reflect.TypeOf(sampleEntry),
	}
}

// InsertData implements Recorder.
func (t *sqliteWriter) InsertData(tableName string, entry any) {
	tbl, ok := t.tables[tableName]
	if !ok {
		panic(fmt.Errorf("tracerec: table %s does not exist", tableName))
	}
	if reflect.TypeOf(entry) != tbl.structType {
		panic(fmt.Errorf("tracerec: entry type mismatch for table %s", tableName))
	}

	tbl.entries = append(tbl.entries, entry)
	if len(tbl.entries) >= t.batchSize {
		t.flushTable(tableName, tbl)
	}
}

// Flush implements Recorder.
func (t *sqliteWriter) Flush() {
	for name, tbl := range t.tables {
		t.flushTable(name, tbl)
	}
}

func (t *sqliteWriter) flushTable(name string, tbl *table) {
	if len(tbl.entries) == 0 {
		return
	}

	tx, err := t.db.Begin()
	if err != nil {
		panic(fmt.Errorf("tracerec: begin: %w", err))
	}

	for _, entry := range tbl.entries {
		values := structs.Values(entry)
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
		stmt := fmt.Sprintf("INSERT INTO %s VALUES (%s);", name, placeholders)
		if _, err := tx.Exec(stmt, values...); err != nil {
			_ = tx.Rollback()
			panic(fmt.Errorf("tracerec: insert into %s: %w", name, err))
		}
	}

	if err := tx.Commit(); err != nil {
		panic(fmt.Errorf("tracerec: commit: %w", err))
	}

	tbl.entries = tbl.entries[:0]
}

func sqlType(kind reflect.Kind) string {
	switch kind {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "INTEGER"
	case reflect.Float32, reflect.Float64:
		return "REAL"
	default:
		return "TEXT"
	}
}

var (
	_ Recorder = (*sqliteWriter)(nil)
	_ Recorder = Nop{}
)
