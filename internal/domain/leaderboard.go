package domain

// LeaderboardEntry is one ranked row of a leaderboard version.
type LeaderboardEntry struct {
	Rank          int    `json:"rank"`
	WalletAddress string `json:"wallet"`
	VaultRef      string `json:"vault,omitempty"`
	Score         string `json:"score"` // vault score, decimal string
}

// LeaderboardVersion is an immutable ranked snapshot for a contest.
// Versions are strictly increasing per contest and never regress.
// Corresponds to leaderboard_versions table in PostgreSQL.
type LeaderboardVersion struct {
	ID        int64
	ContestID string
	Version   int64
	Entries   []LeaderboardEntry
	WrittenAt int64 // Unix ms
	CreatedAt int64
}
