// Package search orchestrates the query parser, scanners, correlation
// engine and projector into the external Search operation.
package search

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/flowpbx/callsearch/internal/correlate"
	"github.com/flowpbx/callsearch/internal/query"
	"github.com/flowpbx/callsearch/internal/store"
)

// ErrInvalidQuery is returned when the requested time window is
// unparseable (terminatedAt < createdAt). It fails the call synchronously
// before iteration starts, never mid-stream.
var ErrInvalidQuery = errors.New("invalid query")

// Request is the external search request: a time window in milliseconds
// since epoch plus a free-text query.
type Request struct {
	CreatedAt    int64
	TerminatedAt int64
	Query        string
}

// Result is the external per-item search response.
type Result struct {
	ID           string
	CreatedAt    int64
	TerminatedAt int64
	HasTerminated bool
	Method       string
	State        string
	Caller       string
	Callee       string
	CallID       []string
	Duration     int64
	HasDuration  bool
	ErrorCode    string
	HasErrorCode bool
}

// Service binds the query parser, attribute catalog and correlation
// engine into the Search operation.
type Service struct {
	catalog query.AttributeCatalog
	engine  *correlate.Engine
}

// NewService wires a Service against adapter, using catalog to type-coerce
// query predicates and cfg to configure the correlation engine.
func NewService(adapter store.Adapter, catalog query.AttributeCatalog, cfg correlate.Config) *Service {
	return &Service{
		catalog: catalog,
		engine:  correlate.NewEngine(adapter, cfg),
	}
}

// Search validates the request, parses the query, and returns a lazy
// sequence of projected results. The iterator yields a terminal error if
// the store becomes unavailable mid-stream; results already yielded
// before that point remain valid.
func (s *Service) Search(ctx context.Context, req Request) (func(yield func(Result, error) bool), error) {
	if req.TerminatedAt < req.CreatedAt {
		return nil, fmt.Errorf("%w: terminatedAt (%d) must be >= createdAt (%d)", ErrInvalidQuery, req.TerminatedAt, req.CreatedAt)
	}

	preds := query.Parse(ctx, req.Query, s.catalog)
	calls := s.engine.Search(ctx, req.CreatedAt, req.TerminatedAt, preds)

	return func(yield func(Result, error) bool) {
		calls(func(call *correlate.CorrelatedCall, err error) bool {
			if err != nil {
				return yield(Result{}, err)
			}
			return yield(toResult(call), nil)
		})
	}, nil
}

func toResult(call *correlate.CorrelatedCall) Result {
	p := correlate.Project(call)
	return Result{
		ID:            uuid.NewString(),
		CreatedAt:     p.CreatedAt,
		TerminatedAt:  p.TerminatedAt,
		HasTerminated: p.HasTerminated,
		Method:        p.Method,
		State:         p.State,
		Caller:        p.Caller,
		Callee:        p.Callee,
		CallID:        p.CallID,
		Duration:      p.Duration,
		HasDuration:   p.HasDuration,
		ErrorCode:     p.ErrorCode,
		HasErrorCode:  p.HasErrorCode,
	}
}
