package models

// Outcome of a completed game from one player's point of view.
type Outcome int

const (
	OutcomeWin Outcome = iota
	OutcomeLoss
	OutcomeDraw
)

// Bucket identifies a statistics category: PvP or AI by difficulty.
type Bucket string

const (
	BucketPvP      Bucket = "pvp"
	BucketAIEasy   Bucket = "ai_easy"
	BucketAIMedium Bucket = "ai_medium"
	BucketAIHard   Bucket = "ai_hard"
)

// Buckets lists every statistics bucket in display order.
var Buckets = []Bucket{BucketPvP, BucketAIEasy, BucketAIMedium, BucketAIHard}

var difficultyBuckets = map[Difficulty]Bucket{
	DifficultyEasy:   BucketAIEasy,
	DifficultyMedium: BucketAIMedium,
	DifficultyHard:   BucketAIHard,
}

// BucketFor returns the statistics bucket for a session.
// Bot games with an unknown difficulty are counted as medium.
func BucketFor(g *GameSession) Bucket {
	if !g.VsAI {
		return BucketPvP
	}
	if b, ok := difficultyBuckets[g.AIDifficulty]; ok {
		return b
	}
	return BucketAIMedium
}

// Record holds the counters of one bucket.
type Record struct {
	Wins     int `json:"wins"`
	Losses   int `json:"losses"`
	Draws    int `json:"draws"`
	Forfeits int `json:"forfeits"`
}

// Apply adds one outcome to the record. Forfeits count losses by forfeit or timeout.
func (r *Record) Apply(o Outcome, forfeit bool) {
	switch o {
	case OutcomeWin:
		r.Wins++
	case OutcomeLoss:
		r.Losses++
		if forfeit {
			r.Forfeits++
		}
	case OutcomeDraw:
		r.Draws++
	}
}

// Add merges other into r.
func (r *Record) Add(other Record) {
	r.Wins += other.Wins
	r.Losses += other.Losses
	r.Draws += other.Draws
	r.Forfeits += other.Forfeits
}

// Games returns the number of games in the record.
func (r Record) Games() int {
	return r.Wins + r.Losses + r.Draws
}

// PlayerStats is the full statistics profile of one identity.
type PlayerStats struct {
	PlayerID string            `json:"playerId"`
	Buckets  map[Bucket]Record `json:"buckets"`
}

// StatDelta is one statistics update produced by a completed game.
type StatDelta struct {
	PlayerID string
	Bucket   Bucket
	Outcome  Outcome
	Forfeit  bool
}

// Record returns the counter increments of the delta.
func (d StatDelta) Record() Record {
	var r Record
	r.Apply(d.Outcome, d.Forfeit)
	return r
}
