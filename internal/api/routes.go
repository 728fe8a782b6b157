// Package api provides HTTP handlers for the taxonomy dashboard server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/taxodash/server/internal/aggregate"
	"github.com/taxodash/server/internal/artifactstore"
	"github.com/taxodash/server/internal/dataset"
	"github.com/taxodash/server/internal/selection"
	"github.com/taxodash/server/internal/service"
	"github.com/taxodash/server/internal/web"
)

// ArtifactLister lists the persisted artifacts with their sizes.
type ArtifactLister interface {
	Entries(ctx context.Context) ([]*artifactstore.Entry, error)
}

// RouterConfig contains router configuration.
type RouterConfig struct {
	Service     *service.DashboardService
	Artifacts   ArtifactLister
	Pages       *web.Renderer
	Title       string
	CORSOrigins []string
	CookieName  string
}

// Preview row limits of the overview page and the preview endpoint.
const (
	defaultPreviewRows = 5
	maxPreviewRows     = 50
)

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()
	svc := cfg.Service

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"X-Notice"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	if cfg.Pages != nil {
		r.Get("/", overviewHandler(svc, cfg.Pages, cfg.Title))
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(sessionMiddleware(cfg.CookieName))

		r.Get("/dataset", datasetHandler(svc))
		r.Get("/preview", previewHandler(svc))

		r.Get("/contexts", contextsHandler(svc))
		r.Route("/contexts/{context}", func(r chi.Router) {
			r.Get("/", snapshotHandler(svc))
			r.Delete("/", dropContextHandler(svc))
			r.Post("/reset", resetHandler(svc))
			r.Get("/levels/{level}/options", optionsHandler(svc))
			r.Put("/levels/{level}", selectHandler(svc))
			r.Post("/levels/{level}", selectHandler(svc))
			r.Get("/partition", partitionHandler(svc))
			r.Get("/bootstrap/{level}", bootstrapHandler(svc))
			// chi splits "{name}.png" at the dot; match the whole segment and
			// strip the extension in the handler.
			r.Get("/embedding/{embedding}", embeddingHandler(svc))
		})

		r.Route("/aggregates", func(r chi.Router) {
			r.Get("/label-fractions", labelFractionsHandler(svc))
			r.Get("/counts/{level}", levelCountsHandler(svc))
			r.Get("/counts/{level}/{category}/samples", categorySamplesHandler(svc))
		})

		r.Get("/summary/numeric/{column}", numericSummaryHandler(svc))
		r.Get("/summary/categorical/{column}", categoricalSummaryHandler(svc))

		r.Get("/plots/color/{column}", colorByFeatureHandler(svc))
		r.Get("/plots/legend/{column}", featureLegendHandler(svc))
		r.Get("/plots/samples", samplesPlotHandler(svc))

		r.Get("/artifacts", artifactsHandler(svc, cfg.Artifacts))
		r.Delete("/artifacts/{key}", resetArtifactHandler(svc))
	})

	return r
}

// Context key for request-scoped values
type ctxKey string

// notice tells the client that a feature is unavailable for the current data
// or selection. It is not an error of the request.
type notice struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func noticeFor(err error) (notice, bool) {
	switch {
	case errors.Is(err, dataset.ErrColumnMissing):
		return notice{Kind: "column_missing", Message: err.Error()}, true
	case errors.Is(err, aggregate.ErrEmptyAggregate), errors.Is(err, service.ErrNoSelectedRows):
		return notice{Kind: "empty", Message: err.Error()}, true
	case errors.Is(err, aggregate.ErrNotNumeric):
		return notice{Kind: "not_numeric", Message: err.Error()}, true
	}
	return notice{}, false
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// writeResult writes v, or maps err onto a notice, a 400 or a 500.
func writeResult(w http.ResponseWriter, v interface{}, err error) {
	if err == nil {
		writeJSON(w, v)
		return
	}
	if n, ok := noticeFor(err); ok {
		writeJSON(w, map[string]interface{}{"notice": n})
		return
	}
	if errors.Is(err, service.ErrInvalidArgument) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	log.Printf("[API] %v", err)
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

// writePNG writes a rendered plot. Feature-level failures produce an empty
// placeholder image with the reason in the X-Notice header.
func writePNG(w http.ResponseWriter, svc *service.DashboardService, data []byte, err error) {
	if err != nil {
		n, ok := noticeFor(err)
		if !ok {
			writeResult(w, nil, err)
			return
		}
		empty, emptyErr := svc.EmptyPlot()
		if emptyErr != nil {
			http.Error(w, emptyErr.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("X-Notice", n.Kind+": "+n.Message)
		data = empty
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(data)
}

func parseLevelParam(r *http.Request) (selection.Level, error) {
	level, err := selection.ParseLevel(chi.URLParam(r, "level"))
	if err != nil || !level.Valid() {
		return selection.LevelNone, errors.Join(service.ErrInvalidArgument, err)
	}
	return level, nil
}

func parseIntQuery(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.Join(service.ErrInvalidArgument, err)
	}
	return v, nil
}

func previewRows(r *http.Request) (int, error) {
	n, err := parseIntQuery(r, "rows", defaultPreviewRows)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		n = 0
	}
	if n > maxPreviewRows {
		n = maxPreviewRows
	}
	return n, nil
}

func contextState(svc *service.DashboardService, r *http.Request) *selection.State {
	return svc.State(getSessionID(r), chi.URLParam(r, "context"))
}

func overviewHandler(svc *service.DashboardService, pages *web.Renderer, title string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := previewRows(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		vm := web.OverviewPage{
			Title:       title,
			DatasetInfo: svc.Dataset(),
			Preview:     svc.Preview(n),
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := pages.RenderOverview(w, vm); err != nil {
			log.Printf("[API] Failed to render overview: %v", err)
		}
	}
}

func datasetHandler(svc *service.DashboardService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, svc.Dataset())
	}
}

func previewHandler(svc *service.DashboardService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := previewRows(r)
		if err != nil {
			writeResult(w, nil, err)
			return
		}
		writeJSON(w, svc.Preview(n))
	}
}

func contextsHandler(svc *service.DashboardService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		contexts := svc.Sessions().Contexts(getSessionID(r))
		if contexts == nil {
			contexts = []string{}
		}
		writeJSON(w, map[string]interface{}{"contexts": contexts})
	}
}

func snapshotHandler(svc *service.DashboardService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, svc.Snapshot(contextState(svc, r)))
	}
}

func dropContextHandler(svc *service.DashboardService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc.Sessions().DropContext(getSessionID(r), chi.URLParam(r, "context"))
		w.WriteHeader(http.StatusNoContent)
	}
}

func resetHandler(svc *service.DashboardService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := contextState(svc, r)
		st.Reset()
		writeJSON(w, svc.Snapshot(st))
	}
}

func optionsHandler(svc *service.DashboardService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		level, err := parseLevelParam(r)
		if err != nil {
			writeResult(w, nil, err)
			return
		}
		opts, err := svc.Options(contextState(svc, r), level)
		writeResult(w, map[string]interface{}{"level": level, "options": opts}, err)
	}
}

func selectHandler(svc *service.DashboardService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		level, err := parseLevelParam(r)
		if err != nil {
			writeResult(w, nil, err)
			return
		}
		values, ok, err := parseSelectionBody(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if !ok {
			values, ok = parseSelectionQuery(r.URL.Query())
		}
		if !ok {
			http.Error(w, "missing selection values", http.StatusBadRequest)
			return
		}
		snap, err := svc.Select(contextState(svc, r), level, values)
		writeResult(w, snap, err)
	}
}

func partitionHandler(svc *service.DashboardService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		part, err := svc.Partition(contextState(svc, r))
		writeResult(w, part, err)
	}
}

func bootstrapHandler(svc *service.DashboardService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		level, err := parseLevelParam(r)
		if err != nil {
			writeResult(w, nil, err)
			return
		}
		boxes, err := svc.Bootstrap(contextState(svc, r), level)
		writeResult(w, map[string]interface{}{"level": level, "boxes": boxes}, err)
	}
}

func embeddingHandler(svc *service.DashboardService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		embedding := strings.TrimSuffix(chi.URLParam(r, "embedding"), ".png")
		data, err := svc.EmbeddingPlot(contextState(svc, r), embedding)
		writePNG(w, svc, data, err)
	}
}

func labelFractionsHandler(svc *service.DashboardService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := svc.LabelFractions(r.Context())
		writeResult(w, t, err)
	}
}

func levelCountsHandler(svc *service.DashboardService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		level, err := parseLevelParam(r)
		if err != nil {
			writeResult(w, nil, err)
			return
		}
		t, err := svc.LevelCounts(r.Context(), level)
		writeResult(w, t, err)
	}
}

func categorySamplesHandler(svc *service.DashboardService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		level, err := parseLevelParam(r)
		if err != nil {
			writeResult(w, nil, err)
			return
		}
		t, err := svc.CategorySampleCounts(r.Context(), level, chi.URLParam(r, "category"))
		writeResult(w, t, err)
	}
}

func numericSummaryHandler(svc *service.DashboardService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bins, err := parseIntQuery(r, "bins", service.DefaultBins)
		if err != nil {
			writeResult(w, nil, err)
			return
		}
		percent, _ := strconv.ParseBool(r.URL.Query().Get("percent"))
		h, err := svc.NumericHistogram(r.Context(), chi.URLParam(r, "column"), bins, percent)
		writeResult(w, h, err)
	}
}

func categoricalSummaryHandler(svc *service.DashboardService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		top, err := parseIntQuery(r, "top", service.DefaultTopN)
		if err != nil {
			writeResult(w, nil, err)
			return
		}
		s, err := svc.CategoricalSummary(r.Context(), chi.URLParam(r, "column"), top)
		writeResult(w, s, err)
	}
}

func colorByFeatureHandler(svc *service.DashboardService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		column := strings.TrimSuffix(chi.URLParam(r, "column"), ".png")
		data, err := svc.ColorByFeature(column, r.URL.Query().Get("colormap"))
		writePNG(w, svc, data, err)
	}
}

func featureLegendHandler(svc *service.DashboardService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		column := chi.URLParam(r, "column")
		items, err := svc.FeatureLegend(column)
		writeResult(w, map[string]interface{}{"column": column, "legend": items}, err)
	}
}

func samplesPlotHandler(svc *service.DashboardService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var seed uint64
		if raw := strings.TrimSpace(r.URL.Query().Get("seed")); raw != "" {
			v, err := strconv.ParseUint(raw, 10, 64)
			if err != nil {
				http.Error(w, "invalid seed", http.StatusBadRequest)
				return
			}
			seed = v
		}
		data, err := svc.SamplesPlot(seed)
		writePNG(w, svc, data, err)
	}
}

func artifactsHandler(svc *service.DashboardService, store ArtifactLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keys, err := svc.Aggregates().Keys(r.Context())
		if err != nil {
			writeResult(w, nil, err)
			return
		}
		response := map[string]interface{}{
			"keys":     keys,
			"computes": svc.Aggregates().Computes(),
		}
		if store != nil {
			entries, err := store.Entries(r.Context())
			if err != nil {
				writeResult(w, nil, err)
				return
			}
			if entries == nil {
				entries = []*artifactstore.Entry{}
			}
			response["stored"] = entries
		}
		writeJSON(w, response)
	}
}

func resetArtifactHandler(svc *service.DashboardService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Aggregates().Reset(r.Context(), chi.URLParam(r, "key")); err != nil {
			writeResult(w, nil, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
