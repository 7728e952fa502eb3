package tracerec

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNopRecorder(t *testing.T) {
	var r Recorder = Nop{}
	r.CreateTable("spi_edge", SPIEdge{})
	r.InsertData("spi_edge", SPIEdge{ID: 40, Level: true})
	r.Flush()
}

func TestSQLiteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace")

	r, err := NewSQLite(path)
	require.NoError(t, err)

	Tables(r)
	r.InsertData("spi_edge", SPIEdge{ID: 40, Level: true})
	r.InsertData("spi_edge", SPIEdge{ID: 40, Level: false})
	r.InsertData("ack", Ack{IAFFID: 0, INTID: 0x40000017, Prio: 8, NMI: false})
	r.Flush()

	db, err := sql.Open("sqlite3", path+".sqlite3")
	require.NoError(t, err)
	defer db.Close()

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM spi_edge").Scan(&count))
	require.Equal(t, 2, count)

	var intid uint32
	var prio uint8
	require.NoError(t, db.QueryRow("SELECT INTID, Prio FROM ack").Scan(&intid, &prio))
	require.Equal(t, uint32(0x40000017), intid)
	require.Equal(t, uint8(8), prio)
}

func TestSQLiteRefusesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace")

	r, err := NewSQLite(path)
	require.NoError(t, err)
	// Touch the database so the file exists on disk.
	r.CreateTable("spi_edge", SPIEdge{})

	_, err = NewSQLite(path)
	require.Error(t, err)
}

func TestInsertUnknownTablePanics(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t2")
	r, err := NewSQLite(path)
	require.NoError(t, err)

	require.Panics(t, func() { r.InsertData("nope", SPIEdge{}) })
}
