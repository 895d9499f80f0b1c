package dbproxy

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/electoral-net/votepipeline/circuitbreaker"
	"github.com/electoral-net/votepipeline/verrors"
)

// Fixed per-operation cache TTLs.
const (
	voteStateTTL  = 30 * time.Second
	candidatesTTL = 300 * time.Second
	turnoutTTL    = 60 * time.Second
)

// Config configures a Proxy.
type Config struct {
	RecoveryTimeout time.Duration
	QueryTimeout    time.Duration // default applied when a query carries none
	Breaker         circuitbreaker.Config
}

// Proxy is the DBProxy gateway: the only object callers (CentralServer)
// talk to.
type Proxy struct {
	router   *QueryRouter
	failover *FailoverHandler
	cache    *CacheService
}

// New returns a Proxy wiring router, a FailoverHandler (with the PING-style
// recovery prober), and a fresh CacheService.
func New(cfg Config, primary, replica Store, prober Prober) *Proxy {
	breakers := circuitbreaker.NewRegistry(cfg.Breaker)
	failover := NewFailoverHandler(cfg.RecoveryTimeout, breakers, prober)
	router := NewQueryRouter(primary, replica, breakers, failover)
	if cfg.QueryTimeout > 0 {
		router.defaultTimeout = cfg.QueryTimeout
	}
	return &Proxy{
		router:   router,
		failover: failover,
		cache:    NewCacheService(),
	}
}

func (p *Proxy) route(ctx context.Context, q QueryParams) (QueryResult, error) {
	res, err := p.router.Route(ctx, q)
	if err != nil {
		return QueryResult{}, err
	}
	if !res.Successful {
		return QueryResult{}, verrors.NewStorage("query unsuccessful", nil)
	}
	return res, nil
}

// SaveVote persists a vote's candidate, timestamp and anonymization hash.
func (p *Proxy) SaveVote(ctx context.Context, voteID, candidateID string, timestamp time.Time, hash string) error {
	if voteID == "" || candidateID == "" {
		return fmt.Errorf("dbproxy: saveVote requires non-empty voteId and candidateId")
	}
	rec, err := encodeRecord(record{VoteID: voteID, CandidateID: candidateID, Timestamp: timestamp, Hash: hash})
	if err != nil {
		return fmt.Errorf("dbproxy: encode vote record: %w", err)
	}
	key := "vote_" + voteID
	_, err = p.route(ctx, QueryParams{Query: "INSERT vote", Params: []string{key, string(rec)}, Type: QueryInsert})
	if err != nil {
		return err
	}
	p.cache.Set(key, rec, voteStateTTL)
	return nil
}

// VerifyVoteState reports whether voteID is known to the store, serving
// from cache when available.
func (p *Proxy) VerifyVoteState(ctx context.Context, voteID string) (bool, error) {
	key := "vote_" + voteID
	if _, ok := p.cache.Get(key); ok {
		return true, nil
	}
	res, err := p.route(ctx, QueryParams{Query: "SELECT vote", Params: []string{key}, Type: QuerySelect})
	if err != nil {
		return false, err
	}
	p.cache.Set(key, res.Value, voteStateTTL)
	return true, nil
}

// SaveCandidates registers each candidate id as a known candidate.
func (p *Proxy) SaveCandidates(ctx context.Context, candidateIDs []string) error {
	for _, id := range candidateIDs {
		rec, err := encodeRecord(record{CandidateID: id})
		if err != nil {
			return fmt.Errorf("dbproxy: encode candidate record: %w", err)
		}
		key := "candidate_" + id
		if _, err := p.route(ctx, QueryParams{Query: "INSERT candidate", Params: []string{key, string(rec)}, Type: QueryInsert}); err != nil {
			return err
		}
	}
	p.cache.Invalidate("candidates_*")
	return nil
}

// GetCandidates returns the known candidate ids, caching the aggregate
// result for candidatesTTL.
func (p *Proxy) GetCandidates(ctx context.Context, candidateIDs []string) ([]string, error) {
	const aggregateKey = "candidates_all"
	if cached, ok := p.cache.Get(aggregateKey); ok {
		return strings.Split(string(cached), "|"), nil
	}
	out := make([]string, 0, len(candidateIDs))
	for _, id := range candidateIDs {
		res, err := p.route(ctx, QueryParams{Query: "SELECT candidate", Params: []string{"candidate_" + id}, Type: QuerySelect})
		if err != nil {
			continue
		}
		rec, err := decodeRecord(res.Value)
		if err != nil {
			continue
		}
		out = append(out, rec.CandidateID)
	}
	if len(out) > 0 {
		p.cache.Set(aggregateKey, []byte(strings.Join(out, "|")), candidatesTTL)
	}
	return out, nil
}

// RegisterUpdateTrigger invalidates the cached aggregate results so the
// next GetUpdatedResults poll observes the change. It is a polling-friendly
// stand-in for a pub/sub fan-out.
func (p *Proxy) RegisterUpdateTrigger(candidateID string) {
	p.cache.Invalidate("candidates_*")
	p.cache.Invalidate("turnout_*")
}

// GetUpdatedResults returns the known candidate ids exactly as
// GetCandidates does, served from the cached aggregate until it expires or
// RegisterUpdateTrigger invalidates it. It does not report per-candidate
// tallies.
func (p *Proxy) GetUpdatedResults(ctx context.Context, candidateIDs []string) ([]string, error) {
	return p.GetCandidates(ctx, candidateIDs)
}

// GetTurnoutPercentage computes the share of registeredVoters who have
// cast a vote.
func (p *Proxy) GetTurnoutPercentage(ctx context.Context, registeredVoters int) (float64, error) {
	const key = "turnout_percentage"
	if cached, ok := p.cache.Get(key); ok {
		return strconv.ParseFloat(string(cached), 64)
	}
	res, err := p.route(ctx, QueryParams{Query: "SELECT turnout", Params: []string{"turnout_count"}, Type: QuerySelect})
	if err != nil {
		return 0, err
	}
	cast, _ := strconv.Atoi(string(res.Value))
	pct := 0.0
	if registeredVoters > 0 {
		pct = float64(cast) / float64(registeredVoters) * 100
	}
	p.cache.Set(key, []byte(strconv.FormatFloat(pct, 'f', -1, 64)), turnoutTTL)
	return pct, nil
}

// Failover exposes the underlying FailoverHandler for observability
// endpoints.
func (p *Proxy) Failover() *FailoverHandler { return p.failover }
