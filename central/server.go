// Package central implements CentralServer: it receives votes consolidated
// from stations, deduplicates against its own narrower caches, anonymizes,
// and persists through DBProxy.
package central

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/electoral-net/votepipeline/log"
	"github.com/electoral-net/votepipeline/recordstore"
	"github.com/electoral-net/votepipeline/verrors"
	"github.com/electoral-net/votepipeline/vote"
)

// DBProxy is the subset of the DBProxy gateway CentralServer needs.
type DBProxy interface {
	SaveVote(ctx context.Context, voteID, candidateID string, timestamp time.Time, hash string) error
}

// Config configures a Server.
type Config struct{}

// Server is CentralServer.
type Server struct {
	store   *recordstore.Store
	dbproxy DBProxy

	mu            sync.RWMutex
	receivedCache map[string]struct{}
	hashCache     map[string]struct{}
	state         map[string]vote.State
}

// New returns a Server, rebuilding receivedCache/hashCache/state by
// scanning store so a restart never loses dedup state.
func New(_ Config, store *recordstore.Store, dbproxy DBProxy) (*Server, error) {
	s := &Server{
		store:         store,
		dbproxy:       dbproxy,
		receivedCache: make(map[string]struct{}),
		hashCache:     make(map[string]struct{}),
		state:         make(map[string]vote.State),
	}
	if err := s.rebuild(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) rebuild() error {
	err := s.store.Scan(func(voteID string, fields []string) bool {
		if len(fields) < 4 {
			return true
		}
		hash := fields[2]
		st := vote.State(fields[3])
		s.receivedCache[voteID] = struct{}{}
		if hash != "" {
			s.hashCache[hash] = struct{}{}
		}
		s.state[voteID] = st
		return true
	})
	if err != nil {
		return verrors.NewStorage("rebuild central server state", err)
	}
	log.Infow("central server state rebuilt", "votes", len(s.receivedCache))
	return nil
}

// record is the on-disk shape: voteId|candidateId|timestamp|hash|state.
func (s *Server) save(voteID, candidateID string, timestamp time.Time, hash string, state vote.State) error {
	if err := s.store.Append(voteID, candidateID, timestamp.UTC().Format(time.RFC3339Nano), hash, string(state)); err != nil {
		return verrors.NewStorage("write central vote record", err)
	}
	return nil
}

// ReceiveVoteFromStation implements receiveVoteFromStation.
func (s *Server) ReceiveVoteFromStation(ctx context.Context, voteID, candidateID, stationID, hash string) error {
	if voteID == "" || candidateID == "" || stationID == "" || hash == "" {
		return fmt.Errorf("central: receiveVoteFromStation requires non-empty voteId, candidateId, stationId, hash")
	}

	s.mu.Lock()
	if _, ok := s.receivedCache[voteID]; ok {
		s.mu.Unlock()
		return verrors.NewDuplicateVote(voteID, "vote id already received by central server")
	}
	if _, ok := s.hashCache[hash]; ok {
		s.mu.Unlock()
		return verrors.NewDuplicateVote(voteID, "payload hash already received by central server")
	}
	s.receivedCache[voteID] = struct{}{}
	s.hashCache[hash] = struct{}{}
	s.state[voteID] = vote.StateReceived
	s.mu.Unlock()

	go s.process(voteID, candidateID)
	return nil
}

func (s *Server) process(voteID, candidateID string) {
	timestamp := time.Now().UTC()
	anonHash := vote.AnonymizationHash(voteID, candidateID, timestamp)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.registerAnonymous(ctx, voteID, candidateID, timestamp, anonHash); err != nil {
		log.Warnw("central failed to register anonymized vote", "voteId", voteID, "error", err.Error())
		s.confirmPersistence(voteID, vote.StateError)
		return
	}
	s.confirmPersistence(voteID, vote.StateProcessed)
}

// registerAnonymous implements registerAnonymous: it writes the vote to
// DBProxy first; a DBProxy failure is logged and audited but tolerated.
// The vote is then always appended to the local journal, and only a
// journal error is returned.
func (s *Server) registerAnonymous(ctx context.Context, voteID, candidateID string, timestamp time.Time, hash string) error {
	if err := s.dbproxy.SaveVote(ctx, voteID, candidateID, timestamp, hash); err != nil {
		log.Warnw("central dbproxy write failed, falling back to local journal", "voteId", voteID, "error", err.Error())
		s.store.Audit("DBPROXY_FALLBACK", voteID, err.Error())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(voteID, candidateID, timestamp, hash, vote.StateProcessed)
}

// confirmPersistence implements confirmPersistence.
func (s *Server) confirmPersistence(voteID string, state vote.State) {
	s.mu.Lock()
	s.state[voteID] = state
	s.mu.Unlock()
	s.store.Audit("CONFIRM_PERSISTENCE", voteID, string(state))
}

// StateCounts returns how many votes sit in each state.
func (s *Server) StateCounts() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[string]int)
	for _, st := range s.state {
		counts[string(st)]++
	}
	return counts
}

// State returns the current known state of voteID.
func (s *Server) State(voteID string) (vote.State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.state[voteID]
	return st, ok
}

// Process adapts Server to the broker.Center / center.Forwarder interface:
// it derives the dedup hash from the submission envelope and delegates to
// ReceiveVoteFromStation.
func (s *Server) Process(ctx context.Context, v vote.Vote) error {
	hash := vote.AnonymizationHash(v.VoteID, v.CandidateID, v.Timestamp)
	return s.ReceiveVoteFromStation(ctx, v.VoteID, v.CandidateID, v.StationOrigin, hash)
}
