package presenter

import (
	"fmt"
	"html/template"
	"io"
	"strings"

	"github.com/kdimtricp/lipreader/internal/inference"
)

// Line is one rendered prediction.
type Line struct {
	Word    string
	Percent string
}

// View is everything the results slot renders.
type View struct {
	Lines       []Line
	SaliencyURL string
}

// FormatProbability renders p as a percentage with three decimals: 0.87321 -> "87.321%".
func FormatProbability(p float64) string {
	return fmt.Sprintf("%.3f%%", p*100)
}

func Lines(result inference.PredictionResult) []Line {
	lines := make([]Line, 0, len(result))
	for _, p := range result {
		lines = append(lines, Line{
			Word:    strings.ToUpper(p.Word),
			Percent: FormatProbability(p.Probability),
		})
	}
	return lines
}

func NewView(result inference.PredictionResult, saliencyURL string) View {
	return View{Lines: Lines(result), SaliencyURL: saliencyURL}
}

// Text writes one "WORD — NN.NNN%" line per prediction and the saliency URL when present.
func Text(w io.Writer, view View) error {
	for _, l := range view.Lines {
		if _, err := fmt.Fprintf(w, "%s — %s\n", l.Word, l.Percent); err != nil {
			return err
		}
	}
	if view.SaliencyURL != "" {
		if _, err := fmt.Fprintf(w, "Saliency map: %s\n", view.SaliencyURL); err != nil {
			return err
		}
	}
	return nil
}

var resultsTemplate = template.Must(template.New("results").Parse(`<div class="predictions" id="predictions">
{{- if .Lines}}
	<h2>Predicted Words and Probabilities:</h2>
	<div class="results">
	{{- range .Lines}}
		<div class="result-item"><span class="word">{{.Word}}</span> — <span class="probability">{{.Percent}}</span></div>
	{{- end}}
	</div>
{{- end}}
{{- if .SaliencyURL}}
	<div class="saliency"><img src="{{.SaliencyURL}}" alt="Saliency Maps GIF"></div>
{{- end}}
</div>
`))

// HTML renders the results partial. Empty slots render nothing.
func HTML(w io.Writer, view View) error {
	return resultsTemplate.Execute(w, view)
}
