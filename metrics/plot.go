package metrics

import (
	"fmt"
	"image/color"
	"path/filepath"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// ROCPoints computes the ROC curve (false positive rate, true positive
// rate) swept over the distinct predicted probabilities in descending
// order, anchored at (0,0) and (1,1).
func ROCPoints(probs []float64, labels []bool) plotter.XYs {
	var pos, neg int
	for _, l := range labels {
		if l {
			pos++
		} else {
			neg++
		}
	}
	if pos == 0 || neg == 0 {
		return plotter.XYs{{X: 0, Y: 0}, {X: 1, Y: 1}}
	}

	order := make([]int, len(probs))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool {
		return probs[order[i]] > probs[order[j]]
	})

	pts := plotter.XYs{{X: 0, Y: 0}}
	var tp, fp int
	for i := 0; i < len(order); {
		j := i
		for j < len(order) && probs[order[j]] == probs[order[i]] {
			if labels[order[j]] {
				tp++
			} else {
				fp++
			}
			j++
		}
		pts = append(pts, plotter.XY{
			X: float64(fp) / float64(neg),
			Y: float64(tp) / float64(pos),
		})
		i = j
	}
	return pts
}

// PlotROC writes a PNG of the pooled ROC curve with the chance diagonal
// and the calibrated operating point marked.
func PlotROC(outDir string, probs []float64, labels []bool, threshold float64) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Pooled ROC (AUC %.3f)", AUC(probs, labels))
	p.X.Label.Text = "false positive rate"
	p.Y.Label.Text = "true positive rate"
	p.X.Min, p.X.Max = 0, 1
	p.Y.Min, p.Y.Max = 0, 1

	curve, err := plotter.NewLine(ROCPoints(probs, labels))
	if err != nil {
		return err
	}
	curve.Color = color.RGBA{R: 20, G: 80, B: 200, A: 255}
	curve.Width = vg.Points(1.5)
	p.Add(curve)
	p.Legend.Add("ROC", curve)

	diag, err := plotter.NewLine(plotter.XYs{{X: 0, Y: 0}, {X: 1, Y: 1}})
	if err != nil {
		return err
	}
	diag.Color = color.RGBA{R: 120, G: 120, B: 120, A: 180}
	diag.Dashes = []vg.Length{vg.Points(3), vg.Points(3)}
	p.Add(diag)
	p.Legend.Add("chance", diag)

	// operating point at the mean calibrated threshold
	calls := make([]bool, len(probs))
	for i, pr := range probs {
		calls[i] = pr >= threshold
	}
	c := NewConfusion(calls, labels)
	op := plotter.XYs{{X: 1 - c.Specificity(), Y: c.Sensitivity()}}
	sc, err := plotter.NewScatter(op)
	if err != nil {
		return err
	}
	sc.GlyphStyle.Color = color.RGBA{R: 200, G: 30, B: 30, A: 255}
	sc.GlyphStyle.Radius = vg.Points(3)
	p.Add(sc)
	p.Legend.Add(fmt.Sprintf("threshold %.3f", threshold), sc)

	grid := plotter.NewGrid()
	p.Add(grid)

	if err := ensureDir(outDir); err != nil {
		return err
	}
	outPath := filepath.Join(outDir, "roc_pooled.png")
	if err := p.Save(6*vg.Inch, 6*vg.Inch, outPath); err != nil {
		return fmt.Errorf("save ROC plot: %w", err)
	}
	return nil
}
