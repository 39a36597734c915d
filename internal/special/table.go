package special

import (
	"image"
	"strings"

	"github.com/adverant/nexus/ocr-consensus-worker/internal/imaging"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/model"
)

// tableRegion is a run of consecutive text lines sharing a delimiter
type tableRegion struct {
	startLine int
	endLine   int
	delimiter string
	rows      int
}

// detectTextTables finds delimiter tables in the consensus text. Regions
// carry 1-based line numbers instead of a box.
func detectTextTables(text string) []model.Region {
	if text == "" {
		return nil
	}
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	var regions []model.Region
	for _, tr := range detectTableRegions(lines) {
		regions = append(regions, model.Region{
			Type:       model.RegionTable,
			Confidence: 0.60, // Lower confidence for text heuristics
			Lines:      []int{tr.startLine + 1, tr.endLine + 1},
		})
	}
	return regions
}

// detectTableRegions identifies potential table regions based on delimiter patterns
func detectTableRegions(lines []string) []tableRegion {
	regions := make([]tableRegion, 0)

	i := 0
	for i < len(lines) {
		delimiter := detectDelimiter(lines[i])
		if delimiter == "" {
			i++
			continue
		}

		// Found potential table start - look for consecutive lines with same delimiter
		startLine := i
		rows := 1
		expectedCols := countDelimiters(lines[i], delimiter)

		i++
		for i < len(lines) && detectDelimiter(lines[i]) == delimiter {
			// Accept ±1 column variation (for irregular tables)
			if abs(countDelimiters(lines[i], delimiter)-expectedCols) > 1 {
				break
			}
			rows++
			i++
		}

		// Only consider regions with 2+ lines (header + data)
		if rows >= 2 {
			regions = append(regions, tableRegion{
				startLine: startLine,
				endLine:   i - 1,
				delimiter: delimiter,
				rows:      rows,
			})
		}
	}

	return regions
}

// detectDelimiter identifies the delimiter used in a line
func detectDelimiter(line string) string {
	for _, delim := range []string{"|", "\t", ",", "｜"} {
		// At least 2 delimiters needed for a table
		if countDelimiters(line, delim) >= 2 {
			return delim
		}
	}
	return ""
}

func countDelimiters(line string, delimiter string) int {
	return strings.Count(line, delimiter)
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// detectRuledTables finds grids drawn with ruling lines: at least three long
// horizontal rules crossed by at least two vertical ones.
func detectRuledTables(a *analysis) []model.Region {
	b := a.bin
	horizontal := horizontalSegments(b, max(40, b.W*3/10))
	vertical := verticalSegments(b, max(20, b.H/15))
	if len(horizontal) < 3 || len(vertical) < 2 {
		return nil
	}

	area := horizontal[0]
	for _, r := range horizontal[1:] {
		area = area.Union(r)
	}
	crossing := 0
	for _, v := range vertical {
		if v.Overlaps(area.Inset(-2)) {
			crossing++
		}
	}
	if crossing < 2 {
		return nil
	}
	for _, v := range vertical {
		if v.Overlaps(area.Inset(-2)) {
			area = area.Union(v)
		}
	}
	return []model.Region{{
		Type:       model.RegionTable,
		Box:        a.toPage(area),
		Confidence: 0.80,
	}}
}

// horizontalSegments returns horizontal ink runs of at least minLen,
// merging runs on adjacent rows into one thick segment.
func horizontalSegments(b *imaging.Binary, minLen int) []image.Rectangle {
	var done, active []image.Rectangle
	for y := 0; y < b.H; y++ {
		var next []image.Rectangle
		x := 0
		for x < b.W {
			if !b.Ink[y*b.W+x] {
				x++
				continue
			}
			start := x
			for x < b.W && b.Ink[y*b.W+x] {
				x++
			}
			if x-start < minLen {
				continue
			}
			run := image.Rect(start, y, x, y+1)
			merged := false
			for i, seg := range active {
				if seg.Max.Y == y && overlap(seg.Min.X, seg.Max.X, start, x) {
					active[i] = image.Rectangle{}
					next = append(next, seg.Union(run))
					merged = true
					break
				}
			}
			if !merged {
				next = append(next, run)
			}
		}
		for _, seg := range active {
			if !seg.Empty() {
				done = append(done, seg)
			}
		}
		active = next
	}
	return append(done, active...)
}

// verticalSegments is horizontalSegments on columns.
func verticalSegments(b *imaging.Binary, minLen int) []image.Rectangle {
	segs := horizontalSegments(b.Rotate(90), minLen)
	// A clockwise turn maps (x, y) to (H-1-y, x).
	out := make([]image.Rectangle, len(segs))
	for i, s := range segs {
		out[i] = image.Rect(s.Min.Y, b.H-s.Max.X, s.Max.Y, b.H-s.Min.X)
	}
	return out
}

func overlap(a0, a1, b0, b1 int) bool {
	return min(a1, b1)-max(a0, b0) > 0
}
