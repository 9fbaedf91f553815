package grid

import "time"

const (
	Rows = 5
	Cols = 5
	Size = Rows * Cols

	// PlacementCost is debited in coins for every placement.
	PlacementCost = 25
	// PlacementPoints is credited for every placement.
	PlacementPoints = 25
	// PlacementsPerVetoToken converts placements into veto-request tokens.
	PlacementsPerVetoToken = 4
)

// Board is the sparse cell -> item mapping for one user. It is the only
// persisted grid state; tallies are always derived from it.
type Board struct {
	UserID    string         `json:"user_id"`
	Cells     map[int]string `json:"cells"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Placement is one filled cell.
type Placement struct {
	UserID   string    `json:"user_id"`
	Cell     int       `json:"cell"`
	Item     string    `json:"item"`
	PlacedAt time.Time `json:"placed_at"`
}

// Tally holds the derived token counts for a board.
type Tally struct {
	Placements     int `json:"placement_count"`
	FullRows       int `json:"full_rows"`
	VetoTokens     int `json:"veto_tokens"`
	ApproveTokens  int `json:"approve_tokens"`
	ApprovalsSpent int `json:"approvals_consumed"`
}

// Compute derives the tally from the board and the number of approve votes
// the owner has already cast.
func Compute(cells map[int]string, approvalsSpent int) Tally {
	count := 0
	for idx := range cells {
		if idx >= 0 && idx < Size {
			count++
		}
	}

	full := 0
	for row := 0; row < Rows; row++ {
		complete := true
		for col := 0; col < Cols; col++ {
			if _, ok := cells[row*Cols+col]; !ok {
				complete = false
				break
			}
		}
		if complete {
			full++
		}
	}

	approve := full - approvalsSpent
	if approve < 0 {
		approve = 0
	}
	return Tally{
		Placements:     count,
		FullRows:       full,
		VetoTokens:     count / PlacementsPerVetoToken,
		ApproveTokens:  approve,
		ApprovalsSpent: approvalsSpent,
	}
}

// Clone copies the board's cell map.
func (b Board) Clone() Board {
	cp := b
	cp.Cells = make(map[int]string, len(b.Cells))
	for k, v := range b.Cells {
		cp.Cells[k] = v
	}
	return cp
}
