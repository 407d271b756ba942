package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// ComputeContestKey computes the deterministic internal key for a contest
// using SHA256. The contract address is lowercased first so differently-cased
// submissions of the same contract collapse to one key.
// Formula: SHA256(chain_id|contract_address|window_start|window_end)
// Returns hex-encoded hash (64 characters).
func ComputeContestKey(
	chainID int64,
	contractAddress string,
	windowStart int64,
	windowEnd int64,
) string {
	data := fmt.Sprintf("%d|%s|%d|%d",
		chainID,
		strings.ToLower(contractAddress),
		windowStart,
		windowEnd,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
