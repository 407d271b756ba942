package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeMilestoneKey computes a deterministic milestone idempotency key using SHA256.
// Formula: SHA256(contest_id|chain_id|milestone|source_tx_hash|source_log_index)
// Returns hex-encoded hash (64 characters).
func ComputeMilestoneKey(
	contestID string,
	chainID int64,
	milestone string,
	sourceTxHash string,
	sourceLogIndex int64,
) string {
	data := fmt.Sprintf("%s|%d|%s|%s|%d",
		contestID,
		chainID,
		milestone,
		sourceTxHash,
		sourceLogIndex,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
