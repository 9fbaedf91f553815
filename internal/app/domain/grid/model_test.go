package grid

import "testing"

func TestComputeTally(t *testing.T) {
	cases := []struct {
		name  string
		cells []int
		spent int
		want  Tally
	}{
		{"empty", nil, 0, Tally{}},
		{"four scattered", []int{0, 6, 12, 18}, 0, Tally{Placements: 4, VetoTokens: 1}},
		{"row zero", []int{0, 1, 2, 3, 4}, 0, Tally{Placements: 5, FullRows: 1, VetoTokens: 1, ApproveTokens: 1}},
		{"row zero spent", []int{0, 1, 2, 3, 4}, 1, Tally{Placements: 5, FullRows: 1, VetoTokens: 1, ApprovalsSpent: 1}},
		{"row split across boundary", []int{3, 4, 5, 6, 7}, 0, Tally{Placements: 5, VetoTokens: 1}},
		{"two rows one spent", []int{0, 1, 2, 3, 4, 20, 21, 22, 23, 24}, 1, Tally{Placements: 10, FullRows: 2, VetoTokens: 2, ApproveTokens: 1, ApprovalsSpent: 1}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cells := make(map[int]string)
			for _, c := range tc.cells {
				cells[c] = "tree"
			}
			got := Compute(cells, tc.spent)
			if got != tc.want {
				t.Fatalf("Compute(%v, %d) = %+v, want %+v", tc.cells, tc.spent, got, tc.want)
			}
		})
	}
}

func TestCloneIsIndependent(t *testing.T) {
	b := Board{UserID: "u1", Cells: map[int]string{1: "bench"}}
	cp := b.Clone()
	cp.Cells[2] = "lamp"
	if len(b.Cells) != 1 {
		t.Fatalf("expected original board untouched, got %v", b.Cells)
	}
}
