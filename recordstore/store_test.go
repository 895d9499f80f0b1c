package recordstore

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestAppendGetSupersedes(t *testing.T) {
	c := qt.New(t)
	s, err := Open("test", t.TempDir())
	c.Assert(err, qt.IsNil)
	defer s.Close()

	c.Assert(s.Append("v1", "CAND_A", "PENDING"), qt.IsNil)
	c.Assert(s.Append("v1", "CAND_A", "CONFIRMED"), qt.IsNil)

	fields, ok, err := s.Get("v1")
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsTrue)
	c.Assert(fields, qt.DeepEquals, []string{"CAND_A", "CONFIRMED"})

	_, ok, err = s.Get("missing")
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsFalse)
}

func TestScanVisitsLatestRecordPerKeyInFirstSeenOrder(t *testing.T) {
	c := qt.New(t)
	s, err := Open("test", t.TempDir())
	c.Assert(err, qt.IsNil)
	defer s.Close()

	c.Assert(s.Append("a", "1"), qt.IsNil)
	c.Assert(s.Append("b", "2"), qt.IsNil)
	c.Assert(s.Append("a", "3"), qt.IsNil)

	var keys []string
	var values []string
	c.Assert(s.Scan(func(key string, fields []string) bool {
		keys = append(keys, key)
		values = append(values, fields[0])
		return true
	}), qt.IsNil)
	c.Assert(keys, qt.DeepEquals, []string{"a", "b"})
	c.Assert(values, qt.DeepEquals, []string{"3", "2"})
	c.Assert(s.Count(), qt.Equals, 2)
}

func TestReopenReplaysLog(t *testing.T) {
	c := qt.New(t)
	dir := t.TempDir()

	s, err := Open("test", dir)
	c.Assert(err, qt.IsNil)
	c.Assert(s.Append("v1", "CAND_A", "PENDING"), qt.IsNil)
	c.Assert(s.Append("v2", "CAND_B", "PENDING"), qt.IsNil)
	c.Assert(s.Append("v1", "CAND_A", "CONFIRMED"), qt.IsNil)
	s.Audit("SET_STATE", "v1", "CONFIRMED")
	c.Assert(s.Close(), qt.IsNil)

	reopened, err := Open("test", dir)
	c.Assert(err, qt.IsNil)
	defer reopened.Close()

	c.Assert(reopened.Count(), qt.Equals, 2)
	fields, ok, err := reopened.Get("v1")
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsTrue)
	c.Assert(fields[1], qt.Equals, "CONFIRMED")
}
