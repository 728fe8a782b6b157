package web

import (
	"bytes"
	"strings"
	"testing"

	"github.com/taxodash/server/internal/dataset"
	"github.com/taxodash/server/internal/service"
)

func TestRenderOverview(t *testing.T) {
	r, err := NewRenderer()
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}

	vm := OverviewPage{
		Title: "Cells",
		DatasetInfo: service.DatasetInfo{
			Rows: 2,
			Columns: []dataset.ColumnInfo{
				{Name: "sample", Kind: dataset.KindCategorical},
				{Name: "umap1", Kind: dataset.KindNumeric},
			},
			MissingExpected: []string{"tsna1"},
		},
		Preview: service.Preview{
			Index:   []string{"c1", "c2"},
			Columns: []string{"sample", "umap1"},
			Rows:    [][]string{{"<S1>", "0.5"}, {"NA", "1.5"}},
		},
	}

	var buf bytes.Buffer
	if err := r.RenderOverview(&buf, vm); err != nil {
		t.Fatalf("RenderOverview: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"<title>Cells</title>", "2 cells, 2 columns.", "tsna1", "numeric", "<th>c2</th>", "&lt;S1&gt;"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output", want)
		}
	}
	if strings.Contains(out, "<S1>") {
		t.Errorf("cell values must be escaped")
	}
}
