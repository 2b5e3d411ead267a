package voting

import (
	"context"

	"gitlab.com/ranfdev/pollvote/internal/domain"
	"gitlab.com/ranfdev/pollvote/internal/models"
)

// Reporter reads the projected vote counts of a poll.
type Reporter struct {
	catalog domain.PollCatalog
}

func NewReporter(catalog domain.PollCatalog) *Reporter {
	return &Reporter{catalog: catalog}
}

// BuildReport returns the counts of every option of the poll, ordered by
// position. A poll without options yields an empty, non nil slice.
func (r *Reporter) BuildReport(ctx context.Context, pollID int64) ([]models.OptionCount, error) {
	counts, err := r.catalog.ListOptionCounts(ctx, pollID)
	if err != nil {
		return nil, err
	}
	if counts == nil {
		counts = []models.OptionCount{}
	}
	return counts, nil
}
