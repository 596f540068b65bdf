package contracts

import (
	"time"

	"github.com/overseer-labs/warden/pkg/maturity"
)

// Agent is the governed entity. Maturity level and confidence score are
// carried as a single Standing so the level always matches the score band.
type Agent struct {
	ID        string            `json:"id"`
	Name      string            `json:"name,omitempty"`
	Category  string            `json:"category"` // domain tag, e.g. "Finance"
	Standing  maturity.Standing `json:"standing"`
	Disabled  bool              `json:"disabled"`
	Version   int64             `json:"version"` // optimistic-concurrency counter
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// ImpactLevel classifies how strongly an outcome moves confidence.
type ImpactLevel string

const (
	ImpactLow    ImpactLevel = "low"
	ImpactMedium ImpactLevel = "medium"
	ImpactHigh   ImpactLevel = "high"
)

// Valid reports whether the impact level is known.
func (l ImpactLevel) Valid() bool {
	switch l {
	case ImpactLow, ImpactMedium, ImpactHigh:
		return true
	}
	return false
}
