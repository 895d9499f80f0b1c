package metadb

import (
	"cmp"
	"fmt"
	"os"
	"testing"

	"github.com/electoral-net/votepipeline/db"
	"github.com/electoral-net/votepipeline/db/inmemory"
	"github.com/electoral-net/votepipeline/db/pebbledb"
)

func New(typ, dir string) (db.Database, error) {
	var database db.Database
	var err error
	opts := db.Options{Path: dir}
	switch typ {
	case db.TypePebble:
		database, err = pebbledb.New(opts)
		if err != nil {
			return nil, err
		}
	case db.TypeMemory:
		database, err = inmemory.New(opts)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("invalid dbType: %q. Available types: %q %q",
			typ, db.TypePebble, db.TypeMemory)
	}
	return database, nil
}

func ForTest() (typ string) {
	return cmp.Or(os.Getenv("VOTEPIPELINE_DB_TYPE"), "pebble")
}

func NewTest(tb testing.TB) db.Database {
	database, err := New(ForTest(), tb.TempDir())
	if err != nil {
		tb.Fatal(err)
	}
	tb.Cleanup(func() {
		if err := database.Close(); err != nil {
			tb.Error(err)
		}
	})
	return database
}
