package web

import (
	"html/template"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"dropout-risk/internal/features"
	"dropout-risk/internal/render"
	"dropout-risk/internal/schema"

	"github.com/rs/zerolog/log"
)

const (
	pageTitle    = "Student Dropout Risk Prediction"
	pageSubtitle = "Enter student details to estimate dropout likelihood."
	submitLabel  = "Predict Dropout Risk"
)

type optionView struct {
	Value    string
	Selected bool
}

type fieldView struct {
	schema.Field
	Value   string
	Choices []optionView
}

func (f fieldView) IsCategorical() bool { return f.Kind == schema.Categorical }

type pageData struct {
	Title    string
	Subtitle string
	Submit   string
	Left     []fieldView
	Right    []fieldView
	Result   *render.View
}

// collectForm returns the submitted values of known fields. Fields the
// browser did not send are left out so the encoder can zero-fill them.
func collectForm(form url.Values, fields schema.FieldSet) features.RawInput {
	raw := make(features.RawInput, len(fields))
	for _, f := range fields {
		if vs, ok := form[f.Name]; ok && len(vs) > 0 {
			raw[f.Name] = strings.TrimSpace(vs[0])
		}
	}
	return raw
}

// buildPage lays the fields out in their two columns. values override the
// field defaults, so a re-rendered form keeps what the user submitted.
func buildPage(fields schema.FieldSet, values features.RawInput, result *render.View) pageData {
	return pageData{
		Title:    pageTitle,
		Subtitle: pageSubtitle,
		Submit:   submitLabel,
		Result:   result,
		Left:     fieldViews(fields.InColumn(0), values),
		Right:    fieldViews(fields.InColumn(1), values),
	}
}

func fieldViews(fields schema.FieldSet, values features.RawInput) []fieldView {
	out := make([]fieldView, 0, len(fields))
	for _, f := range fields {
		v, ok := values[f.Name]
		if !ok {
			v = f.DefaultValue()
		}
		fv := fieldView{Field: f, Value: v}
		for _, opt := range f.Options {
			fv.Choices = append(fv.Choices, optionView{Value: opt, Selected: opt == v})
		}
		out = append(out, fv)
	}
	return out
}

func (s *Server) handleForm(w http.ResponseWriter, r *http.Request) {
	s.writePage(w, buildPage(s.encoder.Fields, nil, nil))
}

func (s *Server) handleFormPredict(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		view := render.Failure(err)
		s.writePage(w, buildPage(s.encoder.Fields, nil, &view))
		return
	}

	raw := collectForm(r.PostForm, s.encoder.Fields)
	p := s.predict(r.Context(), raw, "form")
	view := render.Render(p.Outcome)

	s.writePage(w, buildPage(s.encoder.Fields, raw, &view))
}

func (s *Server) writePage(w http.ResponseWriter, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTemplate.Execute(w, data); err != nil {
		log.Error().Err(err).Msg("failed to render form")
	}
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

var pageTemplate = template.Must(template.New("form").Funcs(template.FuncMap{
	"num": formatNumber,
}).Parse(`<!DOCTYPE html>
<html>
<head>
    <title>{{.Title}}</title>
    <meta charset="utf-8">
    <style>
        body { font-family: Arial, sans-serif; margin: 0; padding: 20px; background: #f5f7fa; color: #222; }
        .container { max-width: 1000px; margin: 0 auto; background: white; padding: 24px; border-radius: 8px; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
        .grid { display: grid; grid-template-columns: 1fr 1fr; gap: 24px; }
        .field { margin-bottom: 12px; }
        label { display: block; font-size: 14px; margin-bottom: 4px; }
        input, select { width: 100%; padding: 6px; box-sizing: border-box; }
        button { margin-top: 16px; padding: 10px 20px; background: #2563eb; color: white; border: none; border-radius: 4px; cursor: pointer; }
        .result { margin-top: 20px; padding: 12px 16px; border-radius: 4px; }
        .success { background: #e6f4ea; color: #1e7e34; }
        .error { background: #fdecea; color: #b02a37; }
        .subtitle { color: #555; }
    </style>
</head>
<body>
<div class="container">
    <h1>{{.Title}}</h1>
    <p class="subtitle">{{.Subtitle}}</p>
    <form method="POST" action="/predict">
        <div class="grid">
            <div class="column">
{{- range .Left}}{{template "field" .}}{{end}}
            </div>
            <div class="column">
{{- range .Right}}{{template "field" .}}{{end}}
            </div>
        </div>
        <button type="submit">{{.Submit}}</button>
    </form>
{{- with .Result}}
    <div class="result {{.Style}}" id="result">
        <p>{{.Message}}</p>
{{- if .HasProbability}}
        <p>{{.Probability}}</p>
{{- end}}
    </div>
{{- end}}
</div>
</body>
</html>
{{define "field"}}
                <div class="field">
                    <label for="{{.Name}}">{{.Label}}</label>
{{- if .IsCategorical}}
                    <select id="{{.Name}}" name="{{.Name}}">
{{- range .Choices}}
                        <option value="{{.Value}}"{{if .Selected}} selected{{end}}>{{.Value}}</option>
{{- end}}
                    </select>
{{- else}}
                    <input type="number" id="{{.Name}}" name="{{.Name}}" min="{{num .Min}}" max="{{num .Max}}" step="{{num .Step}}" value="{{.Value}}">
{{- end}}
                </div>
{{- end}}`))
