package engine

import (
	"context"
	"errors"

	"contest-engine/internal/storage"
)

// IngestionStatus is the read-side view of a contract's ingestion progress.
type IngestionStatus struct {
	Tracked   bool   `json:"tracked"`
	ContestID string `json:"contestId,omitempty"`
	Height    int64  `json:"height"`
	LogIndex  int64  `json:"logIndex"`
	BlockHash string `json:"blockHash,omitempty"`
	UpdatedAt int64  `json:"updatedAt"`
}

// StatusByContest returns ingestion status keyed by contest id.
func (e *Engine) StatusByContest(ctx context.Context, contestID string) (IngestionStatus, error) {
	if _, err := e.store.GetContestByID(ctx, contestID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return IngestionStatus{}, nil
		}
		return IngestionStatus{}, err
	}

	status := IngestionStatus{Tracked: true, ContestID: contestID}
	cur, err := e.store.GetCursorByContest(ctx, contestID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return status, nil
		}
		return IngestionStatus{}, err
	}
	status.Height = cur.Height
	status.LogIndex = cur.LogIndex
	status.BlockHash = cur.BlockHash
	status.UpdatedAt = cur.UpdatedAt
	return status, nil
}

// StatusByAddress returns ingestion status keyed by (chain id, contract address).
func (e *Engine) StatusByAddress(ctx context.Context, chainID int64, address string) (IngestionStatus, error) {
	address = normalizeAddress(address)

	var status IngestionStatus
	contest, err := e.store.GetContestByAddress(ctx, chainID, address)
	if err == nil {
		status.Tracked = true
		status.ContestID = contest.ID
	} else if !errors.Is(err, storage.ErrNotFound) {
		return IngestionStatus{}, err
	}

	cur, err := e.store.GetCursor(ctx, chainID, address)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return status, nil
		}
		return IngestionStatus{}, err
	}
	status.Height = cur.Height
	status.LogIndex = cur.LogIndex
	status.BlockHash = cur.BlockHash
	status.UpdatedAt = cur.UpdatedAt
	return status, nil
}

// Machine-readable error codes for synchronous callers.
const (
	CodeInputInvalid        = "INPUT_INVALID"
	CodeNotFound            = "NOT_FOUND"
	CodeOrderViolation      = "ORDER_VIOLATION"
	CodeConflict            = "CONFLICT"
	CodeResourceUnsupported = "RESOURCE_UNSUPPORTED"
	CodeInternalError       = "INTERNAL_ERROR"
)

// ErrorCode maps an engine error to its machine-readable code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, storage.ErrInvalidInput):
		return CodeInputInvalid
	case errors.Is(err, storage.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, storage.ErrOrderViolation):
		return CodeOrderViolation
	case errors.Is(err, storage.ErrConflict):
		return CodeConflict
	case errors.Is(err, storage.ErrUnsupported):
		return CodeResourceUnsupported
	default:
		return CodeInternalError
	}
}
