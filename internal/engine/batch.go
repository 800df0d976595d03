package engine

import (
	"context"

	"taskline/internal/domain"
)

// BatchUpdate applies the same update to many issues. Each issue gets its
// own transaction; one rejection never rolls back the others.
func (e Engine) BatchUpdate(ctx context.Context, ids []string, opts UpdateOptions) domain.BatchResult {
	var res domain.BatchResult
	for _, id := range ids {
		if _, err := e.Update(ctx, id, opts); err != nil {
			res.Failed = append(res.Failed, domain.BatchFailure{ID: id, Reason: err.Error()})
			continue
		}
		res.Succeeded = append(res.Succeeded, id)
	}
	return res
}

// BatchClose closes many issues with a shared reason, collecting per-id
// outcomes.
func (e Engine) BatchClose(ctx context.Context, ids []string, reason, actor string) domain.BatchResult {
	var res domain.BatchResult
	for _, id := range ids {
		if _, err := e.Close(ctx, id, reason, actor); err != nil {
			res.Failed = append(res.Failed, domain.BatchFailure{ID: id, Reason: err.Error()})
			continue
		}
		res.Succeeded = append(res.Succeeded, id)
	}
	return res
}
