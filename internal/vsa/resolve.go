package vsa

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/sells-group/consultator/internal/model"
	"github.com/sells-group/consultator/internal/resilience"
	"github.com/sells-group/consultator/internal/store"
)

// ErrConsultantNotFound marks rows whose user_id matches no consultant.
// Such rows are skipped, not counted as errors.
var ErrConsultantNotFound = errors.New("vsa: consultant not found")

// Resolver looks consultants up by id, caching hits and misses for the run.
type Resolver struct {
	reader store.ConsultantReader
	retry  resilience.RetryConfig
	known  map[int64]*model.Consultant
}

// NewResolver creates a Resolver over reader. Transient lookup failures are
// retried with retry.
func NewResolver(reader store.ConsultantReader, retry resilience.RetryConfig) *Resolver {
	retry.OnRetry = resilience.RetryLogger("vsa.resolver", "get_consultant")
	return &Resolver{
		reader: reader,
		retry:  retry,
		known:  make(map[int64]*model.Consultant),
	}
}

// Resolve returns the consultant with the given id, or ErrConsultantNotFound.
func (r *Resolver) Resolve(ctx context.Context, id int64) (*model.Consultant, error) {
	if c, ok := r.known[id]; ok {
		if c == nil {
			return nil, eris.Wrapf(ErrConsultantNotFound, "consultant %d", id)
		}
		return c, nil
	}

	c, err := resilience.DoVal(ctx, r.retry, func(ctx context.Context) (*model.Consultant, error) {
		return r.reader.GetConsultant(ctx, id)
	})
	if errors.Is(err, store.ErrNotFound) {
		r.known[id] = nil
		return nil, eris.Wrapf(ErrConsultantNotFound, "consultant %d", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "vsa: resolve consultant %d", id)
	}
	r.known[id] = c
	return c, nil
}
