package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"dinerec/internal/config"
	"dinerec/internal/dataset"
	"dinerec/internal/embedding"
	"dinerec/internal/llm"
	oai "dinerec/internal/llm/openai"
	mylog "dinerec/internal/log"
	"dinerec/internal/recommend"
	"dinerec/internal/store"
	"dinerec/internal/version"
)

// API serves the recommendation endpoints. The engine pointer is swapped
// whole under mu on reindex; request handlers only ever see a consistent
// engine.
type API struct {
	mu     sync.RWMutex
	engine *recommend.Engine

	catalog store.Catalog
	emb     llm.Embedder
	cache   *embedding.CachingEmbedder
	dataDir string
	dataset string
	lg      *mylog.Logger
}

func NewAPI(catalog store.Catalog, emb llm.Embedder, dataDir, datasetPath string) *API {
	lg := mylog.New()
	a := &API{catalog: catalog, dataDir: dataDir, dataset: datasetPath, lg: lg}
	a.emb = embedding.WithCache(emb)
	if c, ok := a.emb.(*embedding.CachingEmbedder); ok {
		a.cache = c
		lg.Info("embeddings.cache", "status", "enabled")
	}
	return a
}

// Reload reads the dataset, replaces the catalog, and builds a fresh engine.
// The running engine keeps serving until the new one is ready.
func (a *API) Reload(ctx context.Context) (int, error) {
	items, err := dataset.Load(a.dataset)
	if err != nil {
		return 0, fmt.Errorf("load dataset: %w", err)
	}
	if err := a.catalog.ReplaceAll(items); err != nil {
		return 0, fmt.Errorf("replace catalog: %w", err)
	}
	eng, err := recommend.Bootstrap(ctx, items, a.emb, a.dataDir, a.lg)
	if err != nil {
		return 0, err
	}
	a.mu.Lock()
	a.engine = eng
	a.mu.Unlock()
	metrics.mu.Lock()
	metrics.rebuilds++
	metrics.mu.Unlock()
	a.lg.Info("reindex.done", "items", len(items), "strategy", eng.Strategy())
	return len(items), nil
}

func (a *API) currentEngine() *recommend.Engine {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.engine
}

func (a *API) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.handleHealthz)
	mux.HandleFunc("/recommend", a.handleRecommend)
	mux.HandleFunc("/cities", a.handleCities)
	mux.HandleFunc("/cuisines", a.handleCuisines)
	mux.HandleFunc("/reindex", a.handleReindex)
	mux.HandleFunc("/metrics", a.handleMetrics)
	return mux
}

// Handler returns the full middleware-wrapped handler. Exposed for tests.
func (a *API) Handler() http.Handler {
	return logMiddleware(a.mux())
}

type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, errStr, message string) {
	writeJSON(w, status, apiError{Error: errStr, Message: message, Code: status})
}

// authorize enforces the optional bearer token. No token configured means
// open access.
func authorize(w http.ResponseWriter, r *http.Request) bool {
	tok := strings.TrimSpace(os.Getenv("DINEREC_API_TOKEN"))
	if tok == "" {
		return true
	}
	hdr := r.Header.Get("Authorization")
	if strings.HasPrefix(hdr, "Bearer ") && strings.TrimSpace(hdr[len("Bearer "):]) == tok {
		return true
	}
	writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid token")
	return false
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	eng := a.currentEngine()
	status := "ok"
	strategy := ""
	items := 0
	if eng == nil {
		status = "starting"
	} else {
		strategy = eng.Strategy()
		items = len(eng.Items())
		if strategy == "" {
			status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   status,
		"strategy": strategy,
		"items":    items,
		"version":  version.Version,
	})
}

func (a *API) handleRecommend(w http.ResponseWriter, r *http.Request) {
	if !authorize(w, r) {
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "")
		return
	}
	city := r.URL.Query().Get("city")
	cuisine := r.URL.Query().Get("cuisine")
	if strings.TrimSpace(city) == "" && strings.TrimSpace(cuisine) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "city or cuisine required")
		return
	}
	k := 0
	if v := r.URL.Query().Get("k"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "k must be a non-negative integer")
			return
		}
		k = n
	}
	eng := a.currentEngine()
	if eng == nil {
		writeError(w, http.StatusServiceUnavailable, "not_ready", "index not built yet")
		return
	}
	recs, err := eng.Recommend(city, cuisine, k)
	if err != nil {
		// an empty match is a 200 with an empty list; this path means the
		// similarity backend itself is gone
		a.lg.Warn("recommend.failed", "city", city, "cuisine", cuisine, "err", err.Error())
		writeError(w, http.StatusServiceUnavailable, "unavailable", "recommendation backend unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": recs, "count": len(recs)})
}

func (a *API) handleCities(w http.ResponseWriter, r *http.Request) {
	a.handleDistinct(w, r, a.catalog.Cities, "cities")
}

func (a *API) handleCuisines(w http.ResponseWriter, r *http.Request) {
	a.handleDistinct(w, r, a.catalog.Cuisines, "cuisines")
}

func (a *API) handleDistinct(w http.ResponseWriter, r *http.Request, fetch func() ([]string, error), key string) {
	if !authorize(w, r) {
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "")
		return
	}
	vals, err := fetch()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	if vals == nil {
		vals = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{key: vals, "count": len(vals)})
}

func (a *API) handleReindex(w http.ResponseWriter, r *http.Request) {
	if !authorize(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
	defer cancel()
	n, err := a.Reload(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "reindex_failed", err.Error())
		return
	}
	eng := a.currentEngine()
	writeJSON(w, http.StatusOK, map[string]any{"items": n, "strategy": eng.Strategy()})
}

type metricsCollector struct {
	mu       sync.Mutex
	reqTotal map[string]int
	durSum   map[string]float64
	durCount map[string]int
	rebuilds int
}

var metrics = &metricsCollector{
	reqTotal: make(map[string]int),
	durSum:   make(map[string]float64),
	durCount: make(map[string]int),
}

func (a *API) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	count, _ := a.catalog.Count()
	cities, _ := a.catalog.Cities()
	cuisines, _ := a.catalog.Cuisines()
	var hits, misses int
	if a.cache != nil {
		hits, misses = a.cache.Stats()
	}
	strategy := ""
	if eng := a.currentEngine(); eng != nil {
		strategy = eng.Strategy()
	}

	format := strings.ToLower(r.URL.Query().Get("format"))
	accept := r.Header.Get("Accept")
	if format == "json" || strings.Contains(accept, "application/json") {
		metrics.mu.Lock()
		rebuilds := metrics.rebuilds
		metrics.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{
			"restaurants":        count,
			"cities":             len(cities),
			"cuisines":           len(cuisines),
			"strategy":           strategy,
			"rebuilds":           rebuilds,
			"embed_cache_hits":   hits,
			"embed_cache_misses": misses,
		})
		return
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	io.WriteString(w, "# HELP dinerec_restaurants Number of restaurants in the catalog.\n")
	io.WriteString(w, "# TYPE dinerec_restaurants gauge\n")
	io.WriteString(w, fmt.Sprintf("dinerec_restaurants %d\n", count))
	io.WriteString(w, "# HELP dinerec_cities Number of distinct cities.\n")
	io.WriteString(w, "# TYPE dinerec_cities gauge\n")
	io.WriteString(w, fmt.Sprintf("dinerec_cities %d\n", len(cities)))
	io.WriteString(w, "# HELP dinerec_cuisines Number of distinct cuisines.\n")
	io.WriteString(w, "# TYPE dinerec_cuisines gauge\n")
	io.WriteString(w, fmt.Sprintf("dinerec_cuisines %d\n", len(cuisines)))
	io.WriteString(w, "# HELP dinerec_index_info Active similarity strategy.\n")
	io.WriteString(w, "# TYPE dinerec_index_info gauge\n")
	io.WriteString(w, fmt.Sprintf("dinerec_index_info{strategy=\"%s\"} 1\n", strategy))
	io.WriteString(w, "# HELP dinerec_embed_cache_hits_total Embedding cache hits.\n")
	io.WriteString(w, "# TYPE dinerec_embed_cache_hits_total counter\n")
	io.WriteString(w, fmt.Sprintf("dinerec_embed_cache_hits_total %d\n", hits))
	io.WriteString(w, "# HELP dinerec_embed_cache_misses_total Embedding cache misses.\n")
	io.WriteString(w, "# TYPE dinerec_embed_cache_misses_total counter\n")
	io.WriteString(w, fmt.Sprintf("dinerec_embed_cache_misses_total %d\n", misses))

	metrics.mu.Lock()
	io.WriteString(w, "# HELP dinerec_rebuilds_total Completed index rebuilds.\n")
	io.WriteString(w, "# TYPE dinerec_rebuilds_total counter\n")
	io.WriteString(w, fmt.Sprintf("dinerec_rebuilds_total %d\n", metrics.rebuilds))
	for key, v := range metrics.reqTotal {
		parts := strings.Split(key, "|")
		if len(parts) == 3 {
			io.WriteString(w, "# TYPE dinerec_http_requests_total counter\n")
			io.WriteString(w, fmt.Sprintf("dinerec_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", parts[0], parts[1], parts[2], v))
		}
	}
	for key, sum := range metrics.durSum {
		cnt := metrics.durCount[key]
		parts := strings.Split(key, "|")
		if len(parts) == 2 {
			io.WriteString(w, "# TYPE dinerec_http_request_duration_seconds summary\n")
			io.WriteString(w, fmt.Sprintf("dinerec_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\"} %f\n", parts[0], parts[1], sum))
			io.WriteString(w, fmt.Sprintf("dinerec_http_request_duration_seconds_count{method=\"%s\",path=\"%s\"} %d\n", parts[0], parts[1], cnt))
		}
	}
	metrics.mu.Unlock()

	io.WriteString(w, "# HELP dinerec_build_info Build information.\n")
	io.WriteString(w, "# TYPE dinerec_build_info gauge\n")
	io.WriteString(w, fmt.Sprintf("dinerec_build_info{version=\"%s\"} 1\n", version.Version))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	nbytes int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.nbytes += n
	return n, err
}

func logMiddleware(next http.Handler) http.Handler {
	lg := mylog.New()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		// accept a client-provided request id or mint one
		reqID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		dur := time.Since(start)
		lg.Info("http.req",
			"req_id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", int(dur/time.Millisecond),
			"bytes", rec.nbytes,
		)
		mkey := r.Method + "|" + r.URL.Path + "|" + strconv.Itoa(rec.status)
		dkey := r.Method + "|" + r.URL.Path
		metrics.mu.Lock()
		metrics.reqTotal[mkey]++
		metrics.durSum[dkey] += dur.Seconds()
		metrics.durCount[dkey]++
		metrics.mu.Unlock()
	})
}

// Run starts the HTTP server: catalog from env, embeddings provider from
// env, one initial index build, then serve until SIGINT/SIGTERM.
func Run(addr string) error {
	lg := mylog.New()
	if err := config.LoadAndApply(); err != nil {
		lg.Warn("config.load_failed", "err", err.Error())
	}
	datasetPath := os.Getenv("DINEREC_DATASET_PATH")
	if datasetPath == "" {
		return fmt.Errorf("DINEREC_DATASET_PATH required")
	}
	dataDir := os.Getenv("DINEREC_DATA_DIR")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		dataDir = filepath.Join(home, ".dinerec", "data")
	}

	var catalog store.Catalog
	if path := os.Getenv("DINEREC_SQLITE_PATH"); path != "" {
		sdb, err := store.NewSQLite(path)
		if err != nil {
			lg.Warn("sqlite.init_failed", "err", err.Error())
			catalog = store.NewMem()
		} else {
			defer sdb.Close()
			catalog = sdb
		}
	} else {
		catalog = store.NewMem()
	}

	var emb llm.Embedder
	if os.Getenv("DINEREC_DISABLE_EMBEDDINGS") != "1" {
		emb = oai.NewFromEnv()
	} else {
		lg.Info("embeddings.disabled", "reason", "env_var_set")
	}

	api := NewAPI(catalog, emb, dataDir, datasetPath)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	n, err := api.Reload(ctx)
	cancel()
	if err != nil {
		// start degraded; /recommend answers 503 until a reindex succeeds
		lg.Warn("server.initial_build_failed", "err", err.Error())
	} else {
		lg.Info("server.ready", "addr", addr, "items", n)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		errs <- srv.ListenAndServe()
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigc:
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		_ = srv.Shutdown(sctx)
		lg.Info("server.shutdown", "signal", sig.String())
		return nil
	case err := <-errs:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
