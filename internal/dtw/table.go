package dtw

import "math"

// costTable is a flat cumulative-cost buffer. Row i stores columns
// [base(i), base(i)+width) at offset i*width; cells outside [0, m) or outside the
// row's stripe are treated as +Inf.
type costTable struct {
	n, m    int
	width   int
	centers []int
	half    int
	cells   []float64
}

func newExactTable(n, m int) *costTable {
	return &costTable{
		n:       n,
		m:       m,
		width:   m,
		centers: nil,
		half:    0,
		cells:   make([]float64, n*m),
	}
}

// newBandedTable keeps cells within half frames of the diagonal projected from
// (0,0) to (n-1,m-1). The half width is widened to the per-row center advance so
// consecutive stripes always overlap.
func newBandedTable(n, m, margin int) *costTable {
	centers := make([]int, n)
	advance := 0

	if n > 1 {
		slope := float64(m-1) / float64(n-1)
		for i := range centers {
			centers[i] = int(math.Round(float64(i) * slope))
		}

		advance = int(math.Ceil(slope))
	} else {
		advance = m - 1
	}

	half := min(max(margin, advance), m-1)
	width := 2*half + 1

	return &costTable{
		n:       n,
		m:       m,
		width:   width,
		centers: centers,
		half:    half,
		cells:   make([]float64, n*width),
	}
}

// base returns the column stored at offset 0 of row i.
func (t *costTable) base(i int) int {
	if t.centers == nil {
		return 0
	}

	return t.centers[i] - t.half
}

// span returns the valid column range [lo, hi] of row i.
func (t *costTable) span(i int) (int, int) {
	b := t.base(i)

	return max(0, b), min(t.m-1, b+t.width-1)
}

func (t *costTable) at(i, j int) float64 {
	if i < 0 || j < 0 {
		return math.Inf(1)
	}

	lo, hi := t.span(i)
	if j < lo || j > hi {
		return math.Inf(1)
	}

	return t.cells[i*t.width+j-t.base(i)]
}

func (t *costTable) accumulate(coster rowCoster) {
	local := make([]float64, t.width)

	for i := range t.n {
		lo, hi := t.span(i)
		row := local[:hi-lo+1]
		coster.fill(i, lo, hi, row)

		offset := i*t.width - t.base(i)

		for j := lo; j <= hi; j++ {
			cost := row[j-lo]

			if i == 0 && j == 0 {
				t.cells[offset] = cost

				continue
			}

			best := math.Inf(1)
			if j > lo {
				best = t.cells[offset+j-1]
			}

			if i > 0 {
				best = math.Min(best, math.Min(t.at(i-1, j), t.at(i-1, j-1)))
			}

			t.cells[offset+j] = cost + best
		}
	}
}

// backtrack follows minimum-cost predecessors from (n-1,m-1) to (0,0). Ties prefer
// the diagonal move, then the move that advanced the real index.
func (t *costTable) backtrack() []Step {
	i, j := t.n-1, t.m-1
	path := make([]Step, 0, t.n+t.m)
	path = append(path, Step{Real: i, Ref: j})

	for i > 0 || j > 0 {
		switch {
		case i == 0:
			j--
		case j == 0:
			i--
		default:
			diagonal := t.at(i-1, j-1)
			up := t.at(i-1, j)
			left := t.at(i, j-1)

			switch {
			case diagonal <= up && diagonal <= left:
				i, j = i-1, j-1
			case up <= left:
				i--
			default:
				j--
			}
		}

		path = append(path, Step{Real: i, Ref: j})
	}

	for l, r := 0, len(path)-1; l < r; l, r = l+1, r-1 {
		path[l], path[r] = path[r], path[l]
	}

	return path
}
