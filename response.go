package main

import (
	"html/template"
	"strings"

	"github.com/rs/zerolog/log"
)

const (
	loadingHTML  = "<i>Offline database is loading... please wait.</i>"
	notFoundHTML = "⚠️ <b>You are offline.</b><br>I can provide information on specific diseases (e.g., 'Malaria') and Vaccinations from my local database.<br>For AI explanations, please connect to the internet."
	noVaccineRow = "No data available."
)

// vaccinationIntents trigger the vaccination schedule ahead of topic matching.
var vaccinationIntents = []string{"vaccin", "immuniz", "schedule"}

var (
	vaccinationTmpl = template.Must(template.New("vaccination").Funcs(template.FuncMap{
		"join": func(v []string) string { return strings.Join(v, ", ") },
	}).Parse(
		`<div class='diagnosis-card vaccination'>` +
			`<div class='diagnosis-title'>💉 Universal Immunization Schedule (Offline Mode)</div>` +
			`<table><tr><th>Age</th><th>Vaccines</th></tr>` +
			`{{range .}}<tr><td>{{.Age}}</td><td>{{join .Vaccines}}</td></tr>{{else}}<tr><td colspan='2'>` + noVaccineRow + `</td></tr>{{end}}` +
			`</table></div>`))

	topicTmpl = template.Must(template.New("topic").Parse(
		`<div class='diagnosis-card information'>` +
			`<div class='diagnosis-title'>ℹ️ Information: {{.Name}} (Offline)</div>` +
			`<p>{{.Description}}</p>` +
			`<div class='section-title'>Health Safety Awareness</div>` +
			`<ul class='precautions-list'>{{range .Precautions}}<li>{{.}}</li>{{end}}</ul>` +
			`</div>` +
			`<div class='offline-note'>📡 <b>Offline Mode:</b> This information is served from your device's storage.</div>`))
)

// Renderer formats topics and the vaccination schedule as HTML fragments.
type Renderer struct {
	vaccination *template.Template
	topic       *template.Template
}

func NewRenderer() *Renderer {
	return &Renderer{vaccination: vaccinationTmpl, topic: topicTmpl}
}

// Vaccination renders the schedule table. An empty schedule renders a
// single "No data available." row.
func (r *Renderer) Vaccination(entries []VaccinationEntry) string {
	return r.execute(r.vaccination, entries)
}

// Topic renders one topic with its precautions as list items.
func (r *Renderer) Topic(t Topic) string {
	return r.execute(r.topic, t)
}

func (r *Renderer) execute(t *template.Template, data interface{}) string {
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		log.Error().Err(err).Str("template", t.Name()).Msg("render failed")
		return notFoundHTML
	}
	return b.String()
}

// Respond answers a query. The checks form a priority cascade:
//  1. Engine not ready: loading notice
//  2. Vaccination intent: schedule table, even if a topic name also matches
//  3. Topic match: topic card
//  4. Otherwise: offline guidance
func (e *Engine) Respond(query string) Response {
	if !e.Ready() {
		return Response{Kind: KindLoading, HTML: loadingHTML}
	}

	q := strings.ToLower(query)
	if hasVaccinationIntent(q) {
		return Response{Kind: KindVaccination, HTML: e.renderer.Vaccination(e.Vaccinations())}
	}

	if m, ok := e.Match(q); ok {
		return Response{Kind: KindTopic, Topic: m.Topic.Name, HTML: e.renderer.Topic(m.Topic)}
	}

	return Response{Kind: KindNotFound, HTML: notFoundHTML}
}

func hasVaccinationIntent(q string) bool {
	for _, intent := range vaccinationIntents {
		if strings.Contains(q, intent) {
			return true
		}
	}
	return false
}
