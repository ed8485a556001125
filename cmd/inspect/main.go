package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/danielpatrickdp/adaptive-response/internal/registry"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to the model registry database")
	last := flag.Int("last", 20, "show N most recent versions")
	version := flag.Int64("version", 0, "show single version detail")
	jsonOut := flag.Bool("json", false, "output as JSON instead of table")
	flag.Parse()

	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "usage: inspect --db path/to/registry.db [--last N] [--version id] [--json]")
		os.Exit(2)
	}

	store, err := registry.NewStore(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	if *version != 0 {
		err = runDetailMode(store, *version, *jsonOut)
	} else {
		err = runListMode(store, *last, *jsonOut)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region list-mode

type listRow struct {
	Version   int64              `json:"version"`
	Status    string             `json:"status"`
	Active    bool               `json:"active"`
	Metrics   map[string]float64 `json:"metrics"`
	CreatedAt string             `json:"created_at"`
}

func runListMode(store *registry.Store, last int, jsonOut bool) error {
	versions, err := store.List(last)
	if err != nil {
		return err
	}
	if len(versions) == 0 {
		fmt.Fprintln(os.Stderr, "no versions found")
		return nil
	}

	active, previous, err := store.ActivePointer()
	if err != nil {
		return err
	}

	rows := make([]listRow, len(versions))
	for i, v := range versions {
		rows[i] = listRow{
			Version:   v.Version,
			Status:    string(v.Status),
			Active:    v.Version == active,
			Metrics:   v.Metrics,
			CreatedAt: v.CreatedAt.Format("2006-01-02 15:04:05"),
		}
	}

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	fmt.Printf("%-9s %-12s %-7s %-20s %s\n", "VERSION", "STATUS", "ACTIVE", "CREATED", "METRICS")
	fmt.Println(strings.Repeat("-", 88))
	for _, r := range rows {
		marker := ""
		if r.Active {
			marker = "*"
		}
		fmt.Printf("%-9d %-12s %-7s %-20s %s\n", r.Version, r.Status, marker, r.CreatedAt, formatMetrics(r.Metrics))
	}
	fmt.Printf("\nactive=%d previous=%d\n", active, previous)
	return nil
}

// #endregion list-mode

// #region detail-mode

func runDetailMode(store *registry.Store, version int64, jsonOut bool) error {
	v, err := store.Get(version)
	if err != nil {
		return err
	}

	if jsonOut {
		out := map[string]interface{}{
			"version":          v.Version,
			"status":           string(v.Status),
			"metrics":          v.Metrics,
			"policy_blob_size": len(v.PolicyBlob),
			"value_blob_size":  len(v.ValueBlob),
			"created_at":       v.CreatedAt,
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Printf("version:     %d\n", v.Version)
	fmt.Printf("status:      %s\n", v.Status)
	fmt.Printf("created_at:  %s\n", v.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("policy blob: %d bytes\n", len(v.PolicyBlob))
	fmt.Printf("value blob:  %d bytes\n", len(v.ValueBlob))
	fmt.Println("metrics:")
	for _, k := range sortedKeys(v.Metrics) {
		fmt.Printf("  %-18s %.4f\n", k, v.Metrics[k])
	}
	return nil
}

// #endregion detail-mode

// #region helpers

func formatMetrics(m map[string]float64) string {
	parts := make([]string, 0, len(m))
	for _, k := range sortedKeys(m) {
		parts = append(parts, fmt.Sprintf("%s=%.3f", k, m[k]))
	}
	return strings.Join(parts, " ")
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// #endregion helpers
