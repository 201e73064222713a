package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"BookAI/pkg/config"
	svc "BookAI/pkg/services"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// chatprobe runs a batch of queries through the dispatcher and writes a
// report, so prompt or tool changes can be eyeballed without the UI.

type QueryItem struct {
	Q string `json:"q"`
}

type ResultItem struct {
	Query      string `json:"query"`
	Response   string `json:"response"`
	DurationMs int64  `json:"duration_ms"`
	Model      string `json:"model"`
	Timestamp  string `json:"timestamp"`
}

type RunSummary struct {
	StartedAt    string       `json:"started_at"`
	EndedAt      string       `json:"ended_at"`
	Env          string       `json:"env"`
	GeminiOn     bool         `json:"gemini_enabled"`
	Model        string       `json:"model"`
	TotalQueries int          `json:"total_queries"`
	Results      []ResultItem `json:"results"`
}

func mustReadQueries() ([]string, error) {
	// Try multiple relative locations to be robust when called via `go run ./cmd/chatprobe`
	candidates := []string{
		"cmd/chatprobe/queries.json",
		"queries.json",
		filepath.Join(filepath.Dir(os.Args[0]), "queries.json"),
	}

	var data []byte
	var err error
	for _, p := range candidates {
		if b, e := os.ReadFile(p); e == nil {
			data = b
			err = nil
			break
		} else {
			err = e
		}
	}
	if data == nil {
		return nil, err
	}

	var items []QueryItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if it.Q != "" {
			out = append(out, it.Q)
		}
	}
	return out, nil
}

func main() {
	queries, err := mustReadQueries()
	if err != nil {
		log.Fatalf("read queries: %v", err)
	}

	var db *gorm.DB
	switch config.DBDriver {
	case "mysql":
		db, err = gorm.Open(mysql.Open(config.DBDSN), &gorm.Config{})
	default:
		db, err = gorm.Open(sqlite.Open(config.DBDSN), &gorm.Config{})
	}
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}

	tools := svc.NewToolRegistry(db)
	assistant := svc.NewAssistant(svc.NewGeminiService(), tools)

	summary := RunSummary{
		StartedAt: time.Now().Format(time.RFC3339),
		Env:       config.AppEnv,
		GeminiOn:  config.IsGeminiEnabled,
		Model:     config.GeminiModel,
	}

	for i, q := range queries {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		start := time.Now()
		answer := assistant.Answer(ctx, nil, q)
		cancel()
		summary.Results = append(summary.Results, ResultItem{
			Query:      q,
			Response:   answer,
			DurationMs: time.Since(start).Milliseconds(),
			Model:      config.GeminiModel,
			Timestamp:  time.Now().Format(time.RFC3339),
		})
		log.Printf("[probe] %d/%d %q (%dms)", i+1, len(queries), q, summary.Results[i].DurationMs)
	}
	summary.EndedAt = time.Now().Format(time.RFC3339)
	summary.TotalQueries = len(queries)

	stamp := time.Now().Format("20060102-150405")
	jsonPath := fmt.Sprintf("chatprobe-%s.json", stamp)
	if data, err := json.MarshalIndent(summary, "", "  "); err == nil {
		if err := os.WriteFile(jsonPath, data, 0644); err != nil {
			log.Fatalf("write %s: %v", jsonPath, err)
		}
	}

	csvPath := fmt.Sprintf("chatprobe-%s.csv", stamp)
	f, err := os.Create(csvPath)
	if err != nil {
		log.Fatalf("create %s: %v", csvPath, err)
	}
	w := csv.NewWriter(f)
	_ = w.Write([]string{"query", "duration_ms", "response"})
	for _, r := range summary.Results {
		_ = w.Write([]string{r.Query, strconv.FormatInt(r.DurationMs, 10), r.Response})
	}
	w.Flush()
	f.Close()

	log.Printf("[probe] wrote %s and %s", jsonPath, csvPath)
}
