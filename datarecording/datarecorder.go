// Package datarecording stores per-access translation events and run
// summaries in a SQLite database so that runs can be inspected and compared
// after the fact.
package datarecording

import (
	"database/sql"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/fatih/structs"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

// A DataRecorder is a backend that can record and store data.
type DataRecorder interface {
	// CreateTable creates a new table whose columns are the fields of the
	// sample entry. Only flat structs of scalar fields are supported.
	CreateTable(tableName string, sampleEntry any)

	// InsertData buffers an entry of the same shape the table was created
	// with. Entries are written out in batches.
	InsertData(tableName string, entry any)

	// ListTables returns the names of all tables created so far.
	ListTables() []string

	// Flush writes all buffered entries into the database.
	Flush()
}

// New creates a DataRecorder writing to path. If path is empty, a unique
// name is generated. Buffered data is flushed when the process exits through
// atexit.
func New(path string) DataRecorder {
	if path == "" {
		path = "tlbsim_run_" + xid.New().String()
	}

	filename := path + ".sqlite3"
	_, err := os.Stat(filename)
	if err == nil {
		panic(fmt.Errorf("file %s already exists", filename))
	}

	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		panic(err)
	}

	fmt.Fprintf(os.Stderr, "Database created for recording: %s\n", filename)

	r := &sqliteRecorder{
		db:        db,
		batchSize: 16384,
		tables:    make(map[string]*table),
	}

	atexit.Register(func() { r.Flush() })

	return r
}

type table struct {
	columns []string
	entries []any
}

type sqliteRecorder struct {
	db        *sql.DB
	tables    map[string]*table
	batchSize int
	buffered  int
}

func (r *sqliteRecorder) CreateTable(tableName string, sampleEntry any) {
	mustBeFlatStruct(sampleEntry)

	columns := structs.Names(sampleEntry)
	createSQL := "CREATE TABLE " + tableName +
		" (\n\t" + strings.Join(columns, ", \n\t") + "\n);"
	r.mustExecute(createSQL)

	r.tables[tableName] = &table{columns: columns}
}

func (r *sqliteRecorder) InsertData(tableName string, entry any) {
	t, exists := r.tables[tableName]
	if !exists {
		panic(fmt.Sprintf("table %s does not exist", tableName))
	}

	t.entries = append(t.entries, entry)

	r.buffered++
	if r.buffered >= r.batchSize {
		r.Flush()
	}
}

func (r *sqliteRecorder) ListTables() []string {
	names := make([]string, 0, len(r.tables))
	for name := range r.tables {
		names = append(names, name)
	}

	return names
}

func (r *sqliteRecorder) Flush() {
	if r.buffered == 0 {
		return
	}

	r.mustExecute("BEGIN TRANSACTION")
	defer r.mustExecute("COMMIT TRANSACTION")

	for tableName, t := range r.tables {
		if len(t.entries) == 0 {
			continue
		}

		stmt := r.prepareInsert(tableName, len(t.columns))
		for _, entry := range t.entries {
			v := reflect.ValueOf(entry)
			values := make([]any, 0, v.NumField())
			for i := 0; i < v.NumField(); i++ {
				values = append(values, v.Field(i).Interface())
			}

			_, err := stmt.Exec(values...)
			if err != nil {
				panic(err)
			}
		}

		t.entries = nil
		stmt.Close()
	}

	r.buffered = 0
}

func (r *sqliteRecorder) prepareInsert(tableName string, numColumns int) *sql.Stmt {
	placeholders := strings.TrimSuffix(
		strings.Repeat("?, ", numColumns), ", ")
	insertSQL := "INSERT INTO " + tableName +
		" VALUES (" + placeholders + ")"

	stmt, err := r.db.Prepare(insertSQL)
	if err != nil {
		panic(err)
	}

	return stmt
}

func (r *sqliteRecorder) mustExecute(query string) {
	_, err := r.db.Exec(query)
	if err != nil {
		fmt.Printf("Failed to execute: %s\n", query)
		panic(err)
	}
}

func mustBeFlatStruct(entry any) {
	t := reflect.TypeOf(entry)
	if t.Kind() != reflect.Struct {
		panic("table entries must be structs")
	}

	for i := 0; i < t.NumField(); i++ {
		switch t.Field(i).Type.Kind() {
		case reflect.Bool,
			reflect.Int, reflect.Int8, reflect.Int16,
			reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16,
			reflect.Uint32, reflect.Uint64,
			reflect.Float32, reflect.Float64,
			reflect.String:
		default:
			panic(fmt.Sprintf("field %s has an unsupported type",
				t.Field(i).Name))
		}
	}
}
