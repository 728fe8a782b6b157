// Package web renders the HTML overview page of the loaded dataset.
package web

import (
	"embed"
	"io"

	"github.com/google/safehtml/template"

	"github.com/taxodash/server/internal/service"
)

//go:embed templates/*
var templateFS embed.FS

// OverviewPage is the view model of the overview page.
type OverviewPage struct {
	Title string
	service.DatasetInfo
	Preview service.Preview
}

// Renderer holds the parsed page templates.
type Renderer struct {
	overviewTemplate *template.Template
}

func NewRenderer() (*Renderer, error) {
	trustedFS := template.TrustedFSFromEmbed(templateFS)

	overviewTemplate, err := template.New("overview.html").ParseFS(trustedFS, "templates/overview.html")
	if err != nil {
		return nil, err
	}

	return &Renderer{overviewTemplate: overviewTemplate}, nil
}

func (r *Renderer) RenderOverview(w io.Writer, vm OverviewPage) error {
	return r.overviewTemplate.Execute(w, vm)
}
