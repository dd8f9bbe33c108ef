package features

import "testing"

func maskFrom(rows []string) Mask {
	m := NewMask(len(rows[0]), len(rows))
	for y, r := range rows {
		for x, c := range r {
			m.Set(x, y, c == '#')
		}
	}
	return m
}

func TestDeriveCoastPoints(t *testing.T) {
	water := maskFrom([]string{
		"##...",
		"##...",
		".....",
		".....",
	})
	pts := DeriveCoastPoints(water, 100, -50)

	want := map[Point]bool{
		{102, -50}: true,
		{102, -49}: true,
		{100, -48}: true,
		{101, -48}: true,
		{102, -48}: true,
	}
	if len(pts) != len(want) {
		t.Fatalf("got %d coast points want %d: %v", len(pts), len(want), pts)
	}
	seen := map[Point]bool{}
	for _, p := range pts {
		if !want[p] {
			t.Fatalf("unexpected coast point %v", p)
		}
		if seen[p] {
			t.Fatalf("duplicate coast point %v", p)
		}
		seen[p] = true
		lx, ly := p.X-100, p.Y+50
		if water.At(lx, ly) {
			t.Fatalf("coast point %v is water", p)
		}
	}
}

func TestDeriveCoastPointsNoWater(t *testing.T) {
	if pts := DeriveCoastPoints(NewMask(4, 4), 0, 0); len(pts) != 0 {
		t.Fatalf("expected no coast points, got %v", pts)
	}
}

func TestDeriveRiverPathsOrdersFromMaximum(t *testing.T) {
	river := maskFrom([]string{
		"###.",
		"....",
		"...#",
		"...#",
	})
	heights := []float64{
		0.6, 0.7, 0.5, 0.0,
		0.0, 0.0, 0.0, 0.0,
		0.0, 0.0, 0.0, 0.4,
		0.0, 0.0, 0.0, 0.3,
	}
	paths := DeriveRiverPaths(river, heights, 10, 20)
	if len(paths) != 2 {
		t.Fatalf("expected 2 components, got %d", len(paths))
	}

	p := paths[0]
	if p.ID != "river:10:20:0" {
		t.Fatalf("unexpected id %q", p.ID)
	}
	if p.Length != 3 || len(p.Points) != 3 {
		t.Fatalf("expected 3 points, got %d", p.Length)
	}
	if p.Points[0].X != 11 || p.Points[0].Y != 20 {
		t.Fatalf("path should start at component max, got %+v", p.Points[0])
	}
	// From the max (0.7) the lowest neighbor is 0.5, then the remaining 0.6.
	if p.Points[1].Height != 0.5 || p.Points[2].Height != 0.6 {
		t.Fatalf("unexpected order: %+v", p.Points)
	}

	small := paths[1]
	if small.ID != "river:10:20:1" || small.Length != 2 {
		t.Fatalf("unexpected small component: %+v", small)
	}
}

func TestDeriveRiverPathsGreedyDescent(t *testing.T) {
	// Plus shape: every arm tip touches its two neighbouring tips diagonally.
	river := maskFrom([]string{
		".#.",
		"###",
		".#.",
	})
	heights := []float64{
		0, 0.5, 0,
		0.4, 0.9, 0.3,
		0, 0.2, 0,
	}
	paths := DeriveRiverPaths(river, heights, 0, 0)
	if len(paths) != 1 {
		t.Fatalf("expected 1 component, got %d", len(paths))
	}
	got := make([]float64, 0, 5)
	for _, pt := range paths[0].Points {
		got = append(got, pt.Height)
	}
	// centre 0.9 -> bottom 0.2 -> right 0.3 -> top 0.5 -> left 0.4
	want := []float64{0.9, 0.2, 0.3, 0.5, 0.4}
	if len(got) != len(want) {
		t.Fatalf("path length %d want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order mismatch at %d: got %v want %v", i, got, want)
		}
	}
}

func TestDeriveRiverPathsGlobalMinimumJump(t *testing.T) {
	// The walk dead-ends in the bottom-left corner and has to jump to the
	// lowest remaining cell on the far side of the start.
	river := maskFrom([]string{
		"####",
		"#...",
	})
	heights := []float64{
		0.5, 0.9, 0.8, 0.7,
		0.1, 0, 0, 0,
	}
	paths := DeriveRiverPaths(river, heights, 0, 0)
	if len(paths) != 1 {
		t.Fatalf("expected 1 component, got %d", len(paths))
	}
	pts := paths[0].Points
	// 0.9 -> neighbours {0.5, 0.8, 0.1(diag)} -> 0.1 -> neighbours {0.5} -> 0.5
	// -> no unused neighbour (0.9 used) -> global min of {0.8, 0.7} = 0.7 -> 0.8.
	want := []float64{0.9, 0.1, 0.5, 0.7, 0.8}
	for i, w := range want {
		if pts[i].Height != w {
			t.Fatalf("order mismatch at %d: got %+v", i, pts)
		}
	}
	if paths[0].Length != 5 {
		t.Fatalf("length should equal component size, got %d", paths[0].Length)
	}
}

func TestDeriveRiverPathsEmpty(t *testing.T) {
	if paths := DeriveRiverPaths(NewMask(3, 3), make([]float64, 9), 0, 0); len(paths) != 0 {
		t.Fatalf("expected no paths, got %d", len(paths))
	}
}
