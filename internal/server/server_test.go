package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dinerec/internal/store"
)

const testCSV = `name,city,cuisine,rating,description
Saffron House,Delhi,North Indian,4.4,classic curry house
Pasta Lane,Delhi,Italian,4.0,fresh pasta daily
Tandoor Point,Delhi,North Indian,3.8,charcoal grill
Sakura,Makati City,Japanese,4.6,omakase sushi
`

type stubEmbed struct{}

func (stubEmbed) Embeddings(_ context.Context, _ string, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		v := make([]float32, 4)
		for j, r := range in {
			v[j%4] += float32(r%11) + 1
		}
		out[i] = v
	}
	return out, nil
}

func newTestAPI(t *testing.T) *API {
	t.Helper()
	dir := t.TempDir()
	csv := filepath.Join(dir, "restaurants.csv")
	if err := os.WriteFile(csv, []byte(testCSV), 0o644); err != nil {
		t.Fatalf("write dataset: %v", err)
	}
	a := NewAPI(store.NewMem(), stubEmbed{}, filepath.Join(dir, "data"), csv)
	if _, err := a.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	return a
}

func doReq(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealthz(t *testing.T) {
	a := newTestAPI(t)
	rr := doReq(t, a.Handler(), http.MethodGet, "/healthz")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var body struct {
		Status   string `json:"status"`
		Strategy string `json:"strategy"`
		Items    int    `json:"items"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.Strategy == "" || body.Items != 4 {
		t.Fatalf("unexpected health body: %+v", body)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("missing request id header")
	}
}

func TestRecommendEndpoint(t *testing.T) {
	a := newTestAPI(t)
	rr := doReq(t, a.Handler(), http.MethodGet, "/recommend?city=Delhi&cuisine=North+Indian&k=5")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rr.Code, rr.Body.String())
	}
	var body struct {
		Count   int `json:"count"`
		Results []struct {
			Name    string  `json:"name"`
			Summary string  `json:"summary"`
			Score   float64 `json:"score"`
		} `json:"results"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 2 || len(body.Results) != 2 {
		t.Fatalf("expected 2 results, got %+v", body)
	}
	if body.Results[0].Summary == "" {
		t.Fatalf("missing summary: %+v", body.Results[0])
	}
}

func TestRecommendValidation(t *testing.T) {
	a := newTestAPI(t)
	if rr := doReq(t, a.Handler(), http.MethodGet, "/recommend"); rr.Code != http.StatusBadRequest {
		t.Fatalf("no filters: status = %d", rr.Code)
	}
	if rr := doReq(t, a.Handler(), http.MethodGet, "/recommend?city=Delhi&k=abc"); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad k: status = %d", rr.Code)
	}
	if rr := doReq(t, a.Handler(), http.MethodPost, "/recommend?city=Delhi"); rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("wrong method: status = %d", rr.Code)
	}
}

func TestRecommendNoMatchIsOK(t *testing.T) {
	a := newTestAPI(t)
	rr := doReq(t, a.Handler(), http.MethodGet, "/recommend?city=Atlantis")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var body struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil || body.Count != 0 {
		t.Fatalf("expected empty result set: %s", rr.Body.String())
	}
}

func TestCitiesAndCuisines(t *testing.T) {
	a := newTestAPI(t)
	rr := doReq(t, a.Handler(), http.MethodGet, "/cities")
	if rr.Code != http.StatusOK {
		t.Fatalf("cities status = %d", rr.Code)
	}
	var cities struct {
		Cities []string `json:"cities"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &cities); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(cities.Cities) != 2 {
		t.Fatalf("expected 2 cities, got %v", cities.Cities)
	}
	rr = doReq(t, a.Handler(), http.MethodGet, "/cuisines")
	var cuisines struct {
		Cuisines []string `json:"cuisines"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &cuisines); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(cuisines.Cuisines) != 3 {
		t.Fatalf("expected 3 cuisines, got %v", cuisines.Cuisines)
	}
}

func TestReindex(t *testing.T) {
	a := newTestAPI(t)
	if rr := doReq(t, a.Handler(), http.MethodGet, "/reindex"); rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET reindex: status = %d", rr.Code)
	}
	rr := doReq(t, a.Handler(), http.MethodPost, "/reindex")
	if rr.Code != http.StatusOK {
		t.Fatalf("POST reindex: status = %d body %s", rr.Code, rr.Body.String())
	}
	var body struct {
		Items    int    `json:"items"`
		Strategy string `json:"strategy"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Items != 4 || body.Strategy == "" {
		t.Fatalf("unexpected reindex response: %+v", body)
	}
}

func TestMetricsJSON(t *testing.T) {
	a := newTestAPI(t)
	rr := doReq(t, a.Handler(), http.MethodGet, "/metrics?format=json")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["restaurants"].(float64) != 4 {
		t.Fatalf("expected 4 restaurants, got %v", body["restaurants"])
	}
	if body["strategy"].(string) == "" {
		t.Fatalf("missing strategy in metrics")
	}
}

func TestMetricsExposition(t *testing.T) {
	a := newTestAPI(t)
	rr := doReq(t, a.Handler(), http.MethodGet, "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	out := rr.Body.String()
	for _, want := range []string{"dinerec_restaurants 4", "dinerec_index_info", "dinerec_build_info"} {
		if !strings.Contains(out, want) {
			t.Fatalf("exposition missing %q:\n%s", want, out)
		}
	}
}

func TestAuthToken(t *testing.T) {
	t.Setenv("DINEREC_API_TOKEN", "sekret")
	a := newTestAPI(t)
	if rr := doReq(t, a.Handler(), http.MethodGet, "/recommend?city=Delhi"); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}
	req := httptest.NewRequest(http.MethodGet, "/recommend?city=Delhi", nil)
	req.Header.Set("Authorization", "Bearer sekret")
	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rr.Code)
	}
}
