package ocr

import (
	"sort"
	"strings"

	"github.com/adverant/nexus/extraction-engine/internal/config"
	"github.com/adverant/nexus/extraction-engine/internal/types"
)

// ReconstructTable lays recognized words out on a grid. Columns cluster on the
// left edge within columnThreshold pixels; rows cluster on the vertical center
// within rowThresholdRatio times the mean word height. Words under
// minConfidence are ignored. Empty rows and columns are removed; a grid with
// fewer than two of either, or mostly empty, is not a table and yields nil.
func ReconstructTable(words []Word, columnThreshold int, rowThresholdRatio, minConfidence float64) [][]string {
	kept := make([]Word, 0, len(words))
	for _, w := range words {
		if strings.TrimSpace(w.Text) == "" || w.Confidence < minConfidence {
			continue
		}
		kept = append(kept, w)
	}
	if len(kept) == 0 {
		return nil
	}

	lefts := make([]float64, len(kept))
	centers := make([]float64, len(kept))
	var totalHeight float64
	for i, w := range kept {
		lefts[i] = float64(w.BoundingBox.X)
		centers[i] = w.BoundingBox.centerY()
		totalHeight += float64(w.BoundingBox.Height)
	}
	rowThreshold := max(totalHeight/float64(len(kept))*rowThresholdRatio, 1)

	columns := clusterPositions(lefts, float64(columnThreshold))
	rows := clusterPositions(centers, rowThreshold)

	cells := make(map[[2]int][]Word)
	for i, w := range kept {
		key := [2]int{nearest(rows, centers[i]), nearest(columns, lefts[i])}
		cells[key] = append(cells[key], w)
	}

	grid := make([][]string, len(rows))
	for r := range grid {
		grid[r] = make([]string, len(columns))
	}
	for key, ws := range cells {
		sort.SliceStable(ws, func(i, j int) bool { return ws[i].BoundingBox.X < ws[j].BoundingBox.X })
		parts := make([]string, len(ws))
		for i, w := range ws {
			parts[i] = strings.TrimSpace(w.Text)
		}
		grid[key[0]][key[1]] = strings.Join(parts, " ")
	}

	grid = trimEmpty(grid)
	if len(grid) < 2 || len(grid[0]) < 2 || fillRatio(grid) < minTableFill {
		return nil
	}
	return grid
}

// running prose scatters words over many sparse columns
const minTableFill = 0.5

func fillRatio(grid [][]string) float64 {
	filled, total := 0, 0
	for _, row := range grid {
		for _, c := range row {
			total++
			if c != "" {
				filled++
			}
		}
	}
	return float64(filled) / float64(total)
}

// clusterPositions groups sorted values whose gap to the previous value is at
// most threshold and returns each group's median.
func clusterPositions(values []float64, threshold float64) []float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	var centers []float64
	group := []float64{sorted[0]}
	for _, v := range sorted[1:] {
		if v-group[len(group)-1] <= threshold {
			group = append(group, v)
			continue
		}
		centers = append(centers, median(group))
		group = []float64{v}
	}
	return append(centers, median(group))
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func nearest(centers []float64, v float64) int {
	best := 0
	for i, c := range centers {
		if abs(c-v) < abs(centers[best]-v) {
			best = i
		}
	}
	return best
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func trimEmpty(grid [][]string) [][]string {
	var rows [][]string
	for _, row := range grid {
		for _, c := range row {
			if c != "" {
				rows = append(rows, row)
				break
			}
		}
	}
	if len(rows) == 0 {
		return nil
	}

	var keep []int
	for col := range rows[0] {
		for _, row := range rows {
			if row[col] != "" {
				keep = append(keep, col)
				break
			}
		}
	}
	out := make([][]string, len(rows))
	for i, row := range rows {
		out[i] = make([]string, len(keep))
		for j, col := range keep {
			out[i][j] = row[col]
		}
	}
	return out
}

// TableToMarkdown renders cells as a GitHub-style table; the first row is the
// header.
func TableToMarkdown(cells [][]string) string {
	if len(cells) == 0 {
		return ""
	}
	width := 0
	for _, row := range cells {
		width = max(width, len(row))
	}

	var sb strings.Builder
	writeRow := func(row []string) {
		sb.WriteString("|")
		for i := 0; i < width; i++ {
			cell := ""
			if i < len(row) {
				cell = strings.ReplaceAll(strings.ReplaceAll(row[i], "|", `\|`), "\n", " ")
			}
			sb.WriteString(" " + cell + " |")
		}
		sb.WriteString("\n")
	}

	writeRow(cells[0])
	sb.WriteString("|")
	for i := 0; i < width; i++ {
		sb.WriteString(" --- |")
	}
	sb.WriteString("\n")
	for _, row := range cells[1:] {
		writeRow(row)
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

// DetectTables runs reconstruction with the tesseract table settings and
// returns at most one table for the page.
func DetectTables(words []Word, tc *config.TesseractConfig, page int) []types.Table {
	if tc == nil || !tc.EnableTableDetection || len(words) == 0 {
		return nil
	}
	cells := ReconstructTable(words, tc.TableColumnThreshold, tc.TableRowThresholdRatio, tc.TableMinConfidence)
	if cells == nil {
		return nil
	}
	return []types.Table{{Cells: cells, Markdown: TableToMarkdown(cells), PageNumber: page}}
}
