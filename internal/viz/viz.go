package viz

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/mat"

	"github.com/23skdu/longbow-bowyer/internal/embedding"
)

// Point is a word placed on the 2-D projection plane.
type Point struct {
	Word string
	X    float64
	Y    float64
}

// Project maps the n most frequent words onto their top two principal
// components, via thin SVD of the mean-centered vector matrix.
func Project(e *embedding.Embeddings, n int) ([]Point, error) {
	if e.Dim() < 2 {
		return nil, fmt.Errorf("viz: need dim >= 2, have %d", e.Dim())
	}
	words := e.Words()
	if n > len(words) {
		n = len(words)
	}
	if n < 2 {
		return nil, fmt.Errorf("viz: need at least 2 words, have %d", n)
	}
	words = words[:n]

	dim := e.Dim()
	data := make([]float64, n*dim)
	for i, w := range words {
		vec, _ := e.Vector(w)
		for j, f := range vec {
			data[i*dim+j] = float64(f)
		}
	}
	for j := 0; j < dim; j++ {
		var mean float64
		for i := 0; i < n; i++ {
			mean += data[i*dim+j]
		}
		mean /= float64(n)
		for i := 0; i < n; i++ {
			data[i*dim+j] -= mean
		}
	}

	var svd mat.SVD
	if !svd.Factorize(mat.NewDense(n, dim, data), mat.SVDThin) {
		return nil, fmt.Errorf("viz: svd did not converge")
	}
	var u mat.Dense
	svd.UTo(&u)
	s := svd.Values(nil)

	pts := make([]Point, n)
	for i, w := range words {
		pts[i] = Point{
			Word: w,
			X:    u.At(i, 0) * s[0],
			Y:    u.At(i, 1) * s[1],
		}
	}
	return pts, nil
}

// Render writes a standalone HTML page with a labeled scatter of pts.
func Render(w io.Writer, title string, pts []Point) error {
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: title}),
		charts.WithInitializationOpts(opts.Initialization{Width: "1200px", Height: "800px"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "pc1", Scale: true}),
		charts.WithYAxisOpts(opts.YAxis{Name: "pc2", Scale: true}),
	)

	data := make([]opts.ScatterData, len(pts))
	for i, p := range pts {
		data[i] = opts.ScatterData{
			Name:       p.Word,
			Value:      []float64{p.X, p.Y},
			Symbol:     "circle",
			SymbolSize: 8,
		}
	}
	scatter.AddSeries("words", data).
		SetSeriesOptions(
			charts.WithLabelOpts(opts.Label{
				Show:      true,
				Position:  "right",
				Formatter: "{b}",
			}),
		)

	page := components.NewPage()
	page.AddCharts(scatter)
	if err := page.Render(w); err != nil {
		return fmt.Errorf("viz: render: %w", err)
	}
	return nil
}
