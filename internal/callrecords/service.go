package callrecords

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

const (
	// MaxPageSize is the hard cap on list page size.
	MaxPageSize = 100
)

// Service exposes the record lifecycle used by the HTTP layer: read paths,
// output writes and paginated listing. Creation happens through the session
// orchestrator, which calls the Repository directly (best-effort).
type Service struct {
	repo Repository
	log  *slog.Logger
}

func NewService(repo Repository, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, log: log}
}

type Pagination struct {
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	HasMore bool `json:"hasMore"`
	Total   int  `json:"total"`
}

type ListResult struct {
	Calls      []CallSummary `json:"calls"`
	Pagination Pagination    `json:"pagination"`
}

// ListPage returns one page of call summaries, newest first. Page is 1-based.
// It fetches limit+1 rows to detect further pages without a count query.
func (s *Service) ListPage(ctx context.Context, page, limit int) (ListResult, error) {
	if page < 1 || limit < 1 || limit > MaxPageSize {
		return ListResult{}, fmt.Errorf("%w: page must be >= 1, limit must be 1-%d", ErrInvalidRequest, MaxPageSize)
	}
	if s.repo == nil {
		return ListResult{}, errors.New("callrecords: repository not configured")
	}

	offset := (page - 1) * limit
	rows, err := s.repo.List(ctx, limit+1, offset)
	if err != nil {
		return ListResult{}, err
	}

	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}

	summaries := make([]CallSummary, 0, len(rows))
	for _, rec := range rows {
		summaries = append(summaries, Summarize(rec))
	}

	return ListResult{
		Calls: summaries,
		Pagination: Pagination{
			Page:    page,
			Limit:   limit,
			HasMore: hasMore,
			Total:   offset + len(rows),
		},
	}, nil
}

// Detail fetches the full record projection. Absence is found=false, never an
// error.
func (s *Service) Detail(ctx context.Context, callID string) (CallDetail, bool, error) {
	rec, found, err := s.repo.GetByID(ctx, callID)
	if err != nil {
		return CallDetail{}, false, err
	}
	if !found {
		return CallDetail{}, false, nil
	}
	return Detail(rec), true, nil
}

type OutputResult struct {
	CallID     string `json:"call_id"`
	OutputData JSONB  `json:"output_data"`
	UpdatedAt  string `json:"updated_at"`
}

// Output reads only the output blob for a record.
func (s *Service) Output(ctx context.Context, callID string) (OutputResult, bool, error) {
	rec, found, err := s.repo.GetByID(ctx, callID)
	if err != nil {
		return OutputResult{}, false, err
	}
	if !found {
		return OutputResult{}, false, nil
	}
	return OutputResult{
		CallID:     rec.CallID,
		OutputData: rec.OutputData,
		UpdatedAt:  NormalizeTimestamp(rec.UpdatedAt),
	}, true, nil
}

// UpdateOutput writes the result blob supplied by the external result writer.
// If the body wraps the payload under "output_data" that wrapper is unwrapped;
// otherwise the whole body is stored. A missing record is found=false.
func (s *Service) UpdateOutput(ctx context.Context, callID string, body JSONB) (string, bool, error) {
	output := body
	if wrapped, ok := body["output_data"].(map[string]any); ok {
		output = JSONB(wrapped)
	}

	rec, found, err := s.repo.UpdateOutput(ctx, callID, output)
	if err != nil {
		return "", false, err
	}
	if !found {
		return "", false, nil
	}
	s.log.Info("call output updated", "call_id", callID)
	return NormalizeTimestamp(rec.UpdatedAt), true, nil
}

// DeleteRecord removes a record row. The live session, if any, is untouched.
func (s *Service) DeleteRecord(ctx context.Context, callID string) (bool, error) {
	return s.repo.Delete(ctx, callID)
}
