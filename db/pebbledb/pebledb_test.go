package pebbledb

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/electoral-net/votepipeline/db"
)

func TestGetSetDelete(t *testing.T) {
	c := qt.New(t)
	database, err := New(db.Options{Path: t.TempDir()})
	c.Assert(err, qt.IsNil)
	defer database.Close()

	tx := database.WriteTx()
	c.Assert(tx.Set([]byte("a"), []byte("1")), qt.IsNil)
	c.Assert(tx.Commit(), qt.IsNil)

	v, err := database.Get([]byte("a"))
	c.Assert(err, qt.IsNil)
	c.Assert(string(v), qt.Equals, "1")

	tx = database.WriteTx()
	c.Assert(tx.Delete([]byte("a")), qt.IsNil)
	c.Assert(tx.Commit(), qt.IsNil)

	_, err = database.Get([]byte("a"))
	c.Assert(err, qt.Equals, db.ErrKeyNotFound)
}

func TestIterate(t *testing.T) {
	c := qt.New(t)
	database, err := New(db.Options{Path: t.TempDir()})
	c.Assert(err, qt.IsNil)
	defer database.Close()

	tx := database.WriteTx()
	c.Assert(tx.Set([]byte("p/1"), []byte("a")), qt.IsNil)
	c.Assert(tx.Set([]byte("p/2"), []byte("b")), qt.IsNil)
	c.Assert(tx.Set([]byte("q/1"), []byte("c")), qt.IsNil)
	c.Assert(tx.Commit(), qt.IsNil)

	var got []string
	c.Assert(database.Iterate([]byte("p/"), func(k, v []byte) bool {
		got = append(got, string(v))
		return true
	}), qt.IsNil)
	c.Assert(got, qt.DeepEquals, []string{"a", "b"})
}

func TestWriteTxApply(t *testing.T) {
	c := qt.New(t)
	database, err := New(db.Options{Path: t.TempDir()})
	c.Assert(err, qt.IsNil)
	defer database.Close()

	src := database.WriteTx()
	c.Assert(src.Set([]byte("k"), []byte("v")), qt.IsNil)

	dst := database.WriteTx()
	c.Assert(dst.Apply(src), qt.IsNil)
	c.Assert(dst.Commit(), qt.IsNil)
	src.Discard()

	v, err := database.Get([]byte("k"))
	c.Assert(err, qt.IsNil)
	c.Assert(string(v), qt.Equals, "v")
}
