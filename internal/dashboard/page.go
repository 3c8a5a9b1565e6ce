package dashboard

import (
	"fmt"
	"html/template"
	"io"
	"strconv"

	"pes-advisor/internal/models"
)

// Field is one form input
type Field struct {
	Name  string
	Label string
	Value string
}

// View is the data rendered by the dashboard page
type View struct {
	Query    string
	Fields   []Field
	Analysis *models.Analysis
	ChartURL string
	RAG      *models.RAGResult
	Error    string
	RAGError string
}

// NewView prepares a view whose form is filled from r
func NewView(r models.TelemetryRecord) *View {
	v := &View{Query: "How to improve PES?"}
	for _, f := range formFields {
		v.Fields = append(v.Fields, Field{
			Name:  f.name,
			Label: f.label,
			Value: strconv.FormatFloat(*f.get(&r), 'f', -1, 64),
		})
	}
	return v
}

var funcs = template.FuncMap{
	"f2": func(v float64) string { return fmt.Sprintf("%.2f", v) },
	"f3": func(v float64) string { return fmt.Sprintf("%.3f", v) },
	"f6": func(v float64) string { return fmt.Sprintf("%.6f", v) },
	"deref": func(p *float64) float64 {
		if p == nil {
			return 0
		}
		return *p
	},
	"delta": func(v float64) string {
		if v >= 0 {
			return fmt.Sprintf("Your current parameters result in +%.2f seconds slower than ideal.", v)
		}
		return fmt.Sprintf("Your current parameters result in %.2f seconds faster than ideal.", -v)
	},
}

var pageTmpl = template.Must(template.New("dashboard").Funcs(funcs).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>PES Advisor</title>
<style>
body { font-family: sans-serif; max-width: 760px; margin: 2em auto; }
label { display: block; margin-top: .5em; }
.result { background: #f4f6f8; padding: .5em 1em; border-radius: 4px; }
.error { color: #b00020; }
iframe { border: 0; width: 680px; height: 520px; }
</style>
</head>
<body>
<h1>LeMans PES Performance Advisor</h1>

<h2>Ask the history</h2>
<form method="post" action="/dashboard/ask">
<input type="text" name="query" value="{{.Query}}" size="60">
<button type="submit">Analyze from history</button>
</form>
{{if .RAGError}}<p class="error">{{.RAGError}}</p>{{end}}
{{with .RAG}}
<h3>Closest Match</h3>
<pre>{{.Context}}</pre>
<p>Similarity: {{f3 .Score}}</p>
{{template "analysis" .Analysis}}
{{end}}

<h2>Manual Input</h2>
<form method="post" action="/dashboard">
{{range .Fields}}<label>{{.Label}} <input type="number" step="any" name="{{.Name}}" value="{{.Value}}"></label>
{{end}}<button type="submit">Analyze Custom</button>
</form>
{{if .Error}}<p class="error">{{.Error}}</p>{{end}}
{{with .Analysis}}{{template "analysis" .}}
<h3>Lap Time Delta</h3>
<p class="result">{{delta .LapDelta}}</p>
{{end}}
{{if .ChartURL}}
<h3>Comparison Radar Chart</h3>
<iframe src="{{.ChartURL}}"></iframe>
{{end}}
</body>
</html>
{{define "analysis"}}
<h3>Estimated PES</h3>
<p class="result">{{f6 .PES}}{{if .ScoreReason}} ({{.ScoreReason}}){{end}}</p>
<h3>Estimated Lap Time</h3>
<p class="result">{{f2 .LapTime}} seconds</p>
<h3>Distance Covered</h3>
<p class="result">{{f3 .DistanceKM}} km</p>
<h3>Average Speed</h3>
<p class="result">{{if .SpeedKPH}}{{f2 (deref .SpeedKPH)}} km/h{{else}}unable to estimate speed{{end}}</p>
<h3>Suggestions</h3>
<ul>{{range .Suggestions}}<li>{{.}}</li>{{end}}</ul>
{{end}}
`))

// RenderPage writes the dashboard HTML
func RenderPage(w io.Writer, v *View) error {
	return pageTmpl.Execute(w, v)
}
