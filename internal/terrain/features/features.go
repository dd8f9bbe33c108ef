package features

import "fmt"

// Mask is a row-major boolean grid over a window whose top-left cell sits at
// some absolute origin supplied by the caller.
type Mask struct {
	Width  int
	Height int
	Cells  []bool
}

func NewMask(w, h int) Mask {
	return Mask{Width: w, Height: h, Cells: make([]bool, w*h)}
}

func (m Mask) index(x, y int) int { return x + y*m.Width }

func (m Mask) In(x, y int) bool {
	return x >= 0 && y >= 0 && x < m.Width && y < m.Height
}

func (m Mask) At(x, y int) bool {
	if !m.In(x, y) {
		return false
	}
	return m.Cells[m.index(x, y)]
}

func (m Mask) Set(x, y int, v bool) {
	m.Cells[m.index(x, y)] = v
}

type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type RiverPoint struct {
	X      int     `json:"x"`
	Y      int     `json:"y"`
	Height float64 `json:"height"`
}

type RiverPath struct {
	ID     string       `json:"id"`
	Points []RiverPoint `json:"points"`
	Length int          `json:"length"`
}

var neighbors8 = [8][2]int{
	{-1, -1}, {0, -1}, {1, -1},
	{-1, 0}, {1, 0},
	{-1, 1}, {0, 1}, {1, 1},
}

// DeriveCoastPoints returns every land cell with at least one water
// 8-neighbor inside the window, in absolute coordinates.
func DeriveCoastPoints(water Mask, originX, originY int) []Point {
	var out []Point
	seen := make(map[Point]struct{})
	for y := 0; y < water.Height; y++ {
		for x := 0; x < water.Width; x++ {
			if water.At(x, y) {
				continue
			}
			for _, d := range neighbors8 {
				if !water.At(x+d[0], y+d[1]) {
					continue
				}
				p := Point{X: originX + x, Y: originY + y}
				if _, ok := seen[p]; !ok {
					seen[p] = struct{}{}
					out = append(out, p)
				}
				break
			}
		}
	}
	return out
}

// DeriveRiverPaths groups river cells into 8-connected components and orders
// each component from its highest cell downhill. heights is row-major with
// the mask's dimensions.
//
// Components of one or two cells are returned in discovery order.
func DeriveRiverPaths(river Mask, heights []float64, originX, originY int) []RiverPath {
	visited := make([]bool, len(river.Cells))
	var paths []RiverPath

	for y := 0; y < river.Height; y++ {
		for x := 0; x < river.Width; x++ {
			i := river.index(x, y)
			if !river.Cells[i] || visited[i] {
				continue
			}
			comp := floodFill(river, visited, x, y)

			var ordered []int
			if len(comp) > 2 {
				ordered = orderDownhill(river, comp, heights)
			} else {
				ordered = comp
			}

			pts := make([]RiverPoint, len(ordered))
			for k, idx := range ordered {
				cx, cy := idx%river.Width, idx/river.Width
				pts[k] = RiverPoint{X: originX + cx, Y: originY + cy, Height: heights[idx]}
			}
			paths = append(paths, RiverPath{
				ID:     fmt.Sprintf("river:%d:%d:%d", originX, originY, len(paths)),
				Points: pts,
				Length: len(pts),
			})
		}
	}
	return paths
}

func floodFill(m Mask, visited []bool, sx, sy int) []int {
	start := m.index(sx, sy)
	visited[start] = true
	stack := []int{start}
	var comp []int
	for len(stack) > 0 {
		idx := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		comp = append(comp, idx)
		x, y := idx%m.Width, idx/m.Width
		for _, d := range neighbors8 {
			nx, ny := x+d[0], y+d[1]
			if !m.At(nx, ny) {
				continue
			}
			ni := m.index(nx, ny)
			if visited[ni] {
				continue
			}
			visited[ni] = true
			stack = append(stack, ni)
		}
	}
	return comp
}

// orderDownhill walks from the component maximum, always stepping to the
// lowest unvisited neighbor. When the walk is stuck it jumps to the lowest
// remaining cell, so a ragged component still yields one path covering
// every cell.
func orderDownhill(m Mask, comp []int, heights []float64) []int {
	member := make(map[int]bool, len(comp))
	start := comp[0]
	for _, idx := range comp {
		member[idx] = true
		if heights[idx] > heights[start] || (heights[idx] == heights[start] && idx < start) {
			start = idx
		}
	}

	used := make(map[int]bool, len(comp))
	out := make([]int, 0, len(comp))
	cur := start
	for {
		used[cur] = true
		out = append(out, cur)
		if len(out) == len(comp) {
			return out
		}

		next := -1
		x, y := cur%m.Width, cur/m.Width
		for _, d := range neighbors8 {
			nx, ny := x+d[0], y+d[1]
			if !m.In(nx, ny) {
				continue
			}
			ni := m.index(nx, ny)
			if !member[ni] || used[ni] {
				continue
			}
			if next < 0 || heights[ni] < heights[next] || (heights[ni] == heights[next] && ni < next) {
				next = ni
			}
		}
		if next < 0 {
			for _, idx := range comp {
				if used[idx] {
					continue
				}
				if next < 0 || heights[idx] < heights[next] || (heights[idx] == heights[next] && idx < next) {
					next = idx
				}
			}
		}
		cur = next
	}
}
