package central

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/electoral-net/votepipeline/recordstore"
	"github.com/electoral-net/votepipeline/vote"
)

type fakeDBProxy struct {
	mu    sync.Mutex
	fail  bool
	saved []string
}

func (f *fakeDBProxy) SaveVote(_ context.Context, voteID, _ string, _ time.Time, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("db unreachable")
	}
	f.saved = append(f.saved, voteID)
	return nil
}

func (f *fakeDBProxy) savedVotes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.saved...)
}

func waitForState(t *testing.T, s *Server, voteID string, want vote.State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st, ok := s.State(voteID); ok && st == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("voteId %s never reached state %s", voteID, want)
}

func TestReceiveVoteFromStationProcessesAndConfirms(t *testing.T) {
	c := qt.New(t)
	store, err := recordstore.Open("central-test", t.TempDir())
	c.Assert(err, qt.IsNil)
	db := &fakeDBProxy{}
	s, err := New(Config{}, store, db)
	c.Assert(err, qt.IsNil)

	err = s.ReceiveVoteFromStation(context.Background(), "v1", "CAND_A", "station-1", "hash-1")
	c.Assert(err, qt.IsNil)

	waitForState(t, s, "v1", vote.StateProcessed)
	c.Assert(db.savedVotes(), qt.DeepEquals, []string{"v1"})
}

func TestReceiveVoteFromStationRejectsDuplicateVoteID(t *testing.T) {
	c := qt.New(t)
	store, err := recordstore.Open("central-test", t.TempDir())
	c.Assert(err, qt.IsNil)
	s, err := New(Config{}, store, &fakeDBProxy{})
	c.Assert(err, qt.IsNil)

	c.Assert(s.ReceiveVoteFromStation(context.Background(), "v1", "CAND_A", "station-1", "hash-1"), qt.IsNil)
	err = s.ReceiveVoteFromStation(context.Background(), "v1", "CAND_B", "station-1", "hash-2")
	c.Assert(err, qt.IsNotNil)
}

func TestReceiveVoteFromStationRejectsDuplicateHash(t *testing.T) {
	c := qt.New(t)
	store, err := recordstore.Open("central-test", t.TempDir())
	c.Assert(err, qt.IsNil)
	s, err := New(Config{}, store, &fakeDBProxy{})
	c.Assert(err, qt.IsNil)

	c.Assert(s.ReceiveVoteFromStation(context.Background(), "v1", "CAND_A", "station-1", "hash-shared"), qt.IsNil)
	err = s.ReceiveVoteFromStation(context.Background(), "v2", "CAND_A", "station-1", "hash-shared")
	c.Assert(err, qt.IsNotNil)
}

func TestRegisterAnonymousFallsBackToLocalJournalOnDBFailure(t *testing.T) {
	c := qt.New(t)
	store, err := recordstore.Open("central-test", t.TempDir())
	c.Assert(err, qt.IsNil)
	db := &fakeDBProxy{fail: true}
	s, err := New(Config{}, store, db)
	c.Assert(err, qt.IsNil)

	err = s.ReceiveVoteFromStation(context.Background(), "v1", "CAND_A", "station-1", "hash-1")
	c.Assert(err, qt.IsNil)

	waitForState(t, s, "v1", vote.StateProcessed)
	c.Assert(db.savedVotes(), qt.HasLen, 0)
}
