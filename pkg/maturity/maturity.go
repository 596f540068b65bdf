// Package maturity defines agent maturity levels for warden.
// Levels map to confidence-score bands and autonomy limits.
package maturity

import (
	"encoding/json"
	"fmt"
)

// Level identifies a maturity band.
type Level string

const (
	Student    Level = "STUDENT"
	Intern     Level = "INTERN"
	Supervised Level = "SUPERVISED"
	Autonomous Level = "AUTONOMOUS"
)

// Confidence thresholds. A score at exactly a threshold belongs to the
// higher band (inclusive-upward).
const (
	InternThreshold     = 0.5
	SupervisedThreshold = 0.7
	AutonomousThreshold = 0.9
)

// ranks orders levels for permission comparisons.
var ranks = map[Level]int{
	Student:    0,
	Intern:     1,
	Supervised: 2,
	Autonomous: 3,
}

// AllLevels contains all maturity levels in ascending rank order.
var AllLevels = []Level{Student, Intern, Supervised, Autonomous}

// Rank returns the ordering rank of a level. Unknown levels rank below
// Student so a corrupted record is never granted more than nothing.
func (l Level) Rank() int {
	r, ok := ranks[l]
	if !ok {
		return -1
	}
	return r
}

// Valid reports whether l is a known level.
func (l Level) Valid() bool {
	_, ok := ranks[l]
	return ok
}

// AtLeast reports whether l meets or exceeds the required level.
func (l Level) AtLeast(required Level) bool {
	return l.Rank() >= required.Rank()
}

// Threshold returns the minimum confidence score for a level.
func Threshold(l Level) float64 {
	switch l {
	case Intern:
		return InternThreshold
	case Supervised:
		return SupervisedThreshold
	case Autonomous:
		return AutonomousThreshold
	default:
		return 0.0
	}
}

// LevelForScore returns the unique band containing score.
func LevelForScore(score float64) Level {
	switch {
	case score >= AutonomousThreshold:
		return Autonomous
	case score >= SupervisedThreshold:
		return Supervised
	case score >= InternThreshold:
		return Intern
	default:
		return Student
	}
}

// Standing couples a confidence score with the level derived from it.
// The pairing is established on construction so the two can never drift:
// there is no way to hold a Standing whose level is not the band of its
// score.
type Standing struct {
	level Level
	score float64
}

// NewStanding clamps score to [0,1] and derives the matching level.
func NewStanding(score float64) Standing {
	score = clamp(score)
	return Standing{level: LevelForScore(score), score: score}
}

// Level returns the maturity level.
func (s Standing) Level() Level { return s.level }

// Score returns the confidence score.
func (s Standing) Score() float64 { return s.score }

// Apply returns a new Standing with delta added to the score, clamped to
// [0,1], and reports whether the level changed.
func (s Standing) Apply(delta float64) (Standing, bool) {
	next := NewStanding(s.score + delta)
	return next, next.level != s.level
}

func (s Standing) String() string {
	return fmt.Sprintf("%s(%.2f)", s.level, s.score)
}

type standingJSON struct {
	Level Level   `json:"level"`
	Score float64 `json:"score"`
}

func (s Standing) MarshalJSON() ([]byte, error) {
	return json.Marshal(standingJSON{Level: s.level, Score: s.score})
}

// UnmarshalJSON re-derives the level from the score, so a hand-edited or
// stale document cannot smuggle in a mismatched pairing.
func (s *Standing) UnmarshalJSON(data []byte) error {
	var w standingJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*s = NewStanding(w.Score)
	return nil
}

func clamp(v float64) float64 {
	if v < 0.0 {
		return 0.0
	}
	if v > 1.0 {
		return 1.0
	}
	return v
}
