package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"

	"dinerec/internal/config"
	"dinerec/internal/dataset"
	oai "dinerec/internal/llm/openai"
	"dinerec/internal/recommend"
	"dinerec/internal/server"
	"dinerec/internal/version"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		fs := flag.NewFlagSet("serve", flag.ExitOnError)
		addr := fs.String("addr", ":8090", "listen address")
		_ = fs.Parse(os.Args[2:])
		if err := server.Run(*addr); err != nil {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			os.Exit(1)
		}
	case "version":
		fmt.Println(version.String())
	case "index":
		indexCmd(os.Args[2:])
	case "recommend":
		recommendCmd(os.Args[2:])
	case "cities":
		listCmd("/cities")
	case "cuisines":
		listCmd("/cuisines")
	case "reindex":
		reindexCmd()
	case "metrics":
		metricsCmd()
	case "eval":
		evalCmd(os.Args[2:])
	case "help", "-h", "--help":
		usage()
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("dinerec - restaurant recommendations over sentence embeddings")
	fmt.Println("usage:")
	fmt.Println("  dinerec serve [--addr :8090]")
	fmt.Println("  dinerec index --dataset <csv> [--data-dir <dir>]")
	fmt.Println("  dinerec recommend --city <city> [--cuisine <cuisine>] [--k 5]")
	fmt.Println("  dinerec cities")
	fmt.Println("  dinerec cuisines")
	fmt.Println("  dinerec reindex")
	fmt.Println("  dinerec metrics")
	fmt.Println("  dinerec eval --dataset <csv> --cases <json> [--data-dir <dir>]")
	fmt.Println("  dinerec version")
}

func serverURL() string {
	if v := os.Getenv("DINEREC_SERVER_URL"); v != "" {
		return v
	}
	return "http://localhost:8090"
}

func httpGet(path string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, serverURL()+path, nil)
	if err != nil {
		return nil, err
	}
	if tok := os.Getenv("DINEREC_API_TOKEN"); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	return http.DefaultClient.Do(req)
}

// indexCmd builds embeddings and the similarity index offline, without a
// running server. Useful for warming the data dir before first serve.
func indexCmd(args []string) {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	datasetPath := fs.String("dataset", os.Getenv("DINEREC_DATASET_PATH"), "dataset CSV path")
	dataDir := fs.String("data-dir", os.Getenv("DINEREC_DATA_DIR"), "artifact directory")
	_ = fs.Parse(args)
	if *datasetPath == "" {
		fmt.Println("--dataset required")
		os.Exit(1)
	}
	if *dataDir == "" {
		*dataDir = "data"
	}
	_ = config.LoadAndApply()
	items, err := dataset.Load(*datasetPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load dataset: %v\n", err)
		os.Exit(1)
	}
	eng, err := recommend.Bootstrap(context.Background(), items, oai.NewFromEnv(), *dataDir, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "index build: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("indexed %s restaurants (strategy: %s)\n", humanize.Comma(int64(len(items))), eng.Strategy())
}

func recommendCmd(args []string) {
	fs := flag.NewFlagSet("recommend", flag.ExitOnError)
	city := fs.String("city", "", "city filter")
	cuisine := fs.String("cuisine", "", "cuisine filter")
	k := fs.Int("k", 5, "number of results")
	raw := fs.Bool("json", false, "print raw JSON")
	_ = fs.Parse(args)
	if *city == "" && *cuisine == "" {
		fmt.Println("--city or --cuisine required")
		os.Exit(1)
	}
	q := url.Values{}
	q.Set("city", *city)
	q.Set("cuisine", *cuisine)
	q.Set("k", strconv.Itoa(*k))
	resp, err := httpGet("/recommend?" + q.Encode())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if *raw || resp.StatusCode != http.StatusOK {
		io.Copy(os.Stdout, resp.Body)
		fmt.Println()
		if resp.StatusCode != http.StatusOK {
			os.Exit(1)
		}
		return
	}
	var body struct {
		Count   int `json:"count"`
		Results []struct {
			Name    string  `json:"name"`
			City    string  `json:"city"`
			Cuisine string  `json:"cuisine"`
			Score   float64 `json:"score"`
			Summary string  `json:"summary"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if body.Count == 0 {
		fmt.Println("no restaurants matched the filters")
		return
	}
	for i, r := range body.Results {
		fmt.Printf("%d. %s (%s, %s) score=%.3f\n   %s\n", i+1, r.Name, r.Cuisine, r.City, r.Score, r.Summary)
	}
}

func listCmd(path string) {
	resp, err := httpGet(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	io.Copy(os.Stdout, resp.Body)
	fmt.Println()
}

func reindexCmd() {
	req, err := http.NewRequest(http.MethodPost, serverURL()+"/reindex", nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if tok := os.Getenv("DINEREC_API_TOKEN"); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	io.Copy(os.Stdout, resp.Body)
	fmt.Println()
}

func metricsCmd() {
	resp, err := httpGet("/metrics?format=json")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	io.Copy(os.Stdout, resp.Body)
	fmt.Println()
}

// evalCmd scores the recommender against a labeled case file, offline.
func evalCmd(args []string) {
	fs := flag.NewFlagSet("eval", flag.ExitOnError)
	datasetPath := fs.String("dataset", os.Getenv("DINEREC_DATASET_PATH"), "dataset CSV path")
	casesPath := fs.String("cases", "", "evaluation cases JSON path")
	dataDir := fs.String("data-dir", os.Getenv("DINEREC_DATA_DIR"), "artifact directory")
	_ = fs.Parse(args)
	if *datasetPath == "" || *casesPath == "" {
		fmt.Println("--dataset and --cases required")
		os.Exit(1)
	}
	if *dataDir == "" {
		*dataDir = "data"
	}
	_ = config.LoadAndApply()
	items, err := dataset.Load(*datasetPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load dataset: %v\n", err)
		os.Exit(1)
	}
	eng, err := recommend.Bootstrap(context.Background(), items, oai.NewFromEnv(), *dataDir, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "index build: %v\n", err)
		os.Exit(1)
	}
	cb, err := os.ReadFile(*casesPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read cases: %v\n", err)
		os.Exit(1)
	}
	var cases []recommend.QueryCase
	if err := json.Unmarshal(cb, &cases); err != nil {
		fmt.Fprintf(os.Stderr, "parse cases: %v\n", err)
		os.Exit(1)
	}
	m := eng.Evaluate(cases)
	fmt.Printf("queries: %s\n", humanize.Comma(int64(m.Queries)))
	fmt.Printf("hit@5:   %.3f\n", m.HitAt5)
	fmt.Printf("hit@10:  %.3f\n", m.HitAt10)
	fmt.Printf("mrr:     %.3f\n", m.MRR)
}
