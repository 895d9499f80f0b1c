package dbproxy

import (
	"context"
	"time"

	"github.com/electoral-net/votepipeline/circuitbreaker"
	"github.com/electoral-net/votepipeline/log"
	"github.com/electoral-net/votepipeline/verrors"
)

// Store is the storage surface both Primary and Replica implement.
type Store interface {
	ExecuteWrite(ctx context.Context, q QueryParams) (TransactionInfo, error)
	ExecuteRead(ctx context.Context, q QueryParams) (QueryResult, error)
	ConfirmReplication(ctx context.Context, tx TransactionInfo) error
}

// QueryRouter picks Primary or Replica based on query type and target
// health. Health is tracked by the FailoverHandler, which owns the
// per-target ConnectionInfo, the circuit-breaker registrations, and the
// recovery probe for FAILED targets; the router consults it on every
// routing decision and reports every outcome back to it.
type QueryRouter struct {
	primary        Store
	replica        Store
	breakers       *circuitbreaker.Registry
	failover       *FailoverHandler
	defaultTimeout time.Duration
}

// NewQueryRouter returns a QueryRouter routing between primary and replica,
// with failover tracking both targets' health.
func NewQueryRouter(primary, replica Store, breakers *circuitbreaker.Registry, failover *FailoverHandler) *QueryRouter {
	return &QueryRouter{
		primary:        primary,
		replica:        replica,
		breakers:       breakers,
		failover:       failover,
		defaultTimeout: 5 * time.Second,
	}
}

// Route executes q against the target selected by its type, measuring
// latency and applying q.Timeout.
func (r *QueryRouter) Route(ctx context.Context, q QueryParams) (QueryResult, error) {
	if q.Timeout <= 0 {
		q.Timeout = r.defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, q.Timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		log.Infow("dbproxy query routed", "type", q.Type, "duration", time.Since(start).String())
	}()

	if q.Type == QuerySelect {
		return r.read(ctx, q)
	}
	return r.writeToPrimary(ctx, q)
}

// read prefers the replica when the failover handler considers it usable
// (ACTIVE, or FAILED but past its recovery probe) and its circuit admits
// the call; anything else falls back to the primary.
func (r *QueryRouter) read(ctx context.Context, q QueryParams) (QueryResult, error) {
	target, err := r.failover.GetConnection("replica", "primary")
	if err == nil && target == "replica" && r.breakers.Get("replica").Allow() {
		res, readErr := r.replica.ExecuteRead(ctx, q)
		if readErr == nil {
			r.failover.RegisterSuccess("replica")
			return res, nil
		}
		r.failover.RegisterFailure("replica")
		log.Warnw("dbproxy replica read failed, falling back to primary", "error", readErr.Error())
	}
	return r.readFromPrimary(ctx, q)
}

func (r *QueryRouter) readFromPrimary(ctx context.Context, q QueryParams) (QueryResult, error) {
	res, err := r.primary.ExecuteRead(ctx, q)
	if err != nil {
		r.failover.RegisterFailure("primary")
		if ctx.Err() != nil {
			return QueryResult{}, verrors.NewQueryTimeout(q.Query)
		}
		return QueryResult{}, verrors.NewDBConnection("primary", err.Error())
	}
	r.failover.RegisterSuccess("primary")
	return res, nil
}

func (r *QueryRouter) writeToPrimary(ctx context.Context, q QueryParams) (QueryResult, error) {
	// Writes have no alternative target: a primary that is FAILED and not
	// yet probeable rejects the write outright.
	if _, err := r.failover.GetConnection("primary", ""); err != nil {
		return QueryResult{}, err
	}
	primaryBreaker := r.breakers.Get("primary")
	if !primaryBreaker.Allow() {
		return QueryResult{}, verrors.NewCircuitOpen("primary")
	}

	tx, err := r.primary.ExecuteWrite(ctx, q)
	if err != nil {
		r.failover.RegisterFailure("primary")
		if ctx.Err() != nil {
			return QueryResult{}, verrors.NewQueryTimeout(q.Query)
		}
		return QueryResult{}, verrors.NewDBConnection("primary", err.Error())
	}
	r.failover.RegisterSuccess("primary")

	if err := r.replica.ConfirmReplication(ctx, tx); err != nil {
		r.failover.RegisterFailure("replica")
		log.Warnw("dbproxy replication failed, write still committed locally", "transactionId", tx.TransactionID, "error", err.Error())
	} else {
		r.failover.RegisterSuccess("replica")
	}

	return QueryResult{Successful: true, Value: tx.Data}, nil
}
