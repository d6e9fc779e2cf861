package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/agenthands/canon/internal/server"
)

var client = &http.Client{Timeout: 5 * time.Minute}

func main() {
	baseURL := os.Getenv("CANON_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	fmt.Println("Starting smoke run against", baseURL)
	if !waitHealthy(baseURL, 30*time.Second) {
		fail("server did not become healthy")
	}

	suffix := fmt.Sprintf("%d", time.Now().Unix())
	today := time.Now().UTC()
	a := server.IngestRequest{
		ID:                "smoke-a-" + suffix,
		CanonicalName:     "BRICS Summit 2024 in Kazan",
		InitiatingCountry: "RU",
		Mentions: []server.MentionRequest{
			{Date: today.AddDate(0, 0, -1).Format(time.DateOnly), DocIDs: []string{"doc-1", "doc-2"}, ArticleCount: 2},
			{Date: today.Format(time.DateOnly), DocIDs: []string{"doc-3"}, ArticleCount: 1},
		},
	}
	b := server.IngestRequest{
		ID:                "smoke-b-" + suffix,
		CanonicalName:     "BRICS Summit in Kazan",
		InitiatingCountry: "RU",
		Mentions: []server.MentionRequest{
			{Date: today.Format(time.DateOnly), DocIDs: []string{"doc-4"}, ArticleCount: 1},
		},
	}

	fmt.Println("1. Ingesting events...")
	for _, e := range []server.IngestRequest{a, b} {
		if _, ok := send(baseURL, "POST", "/events", e, http.StatusCreated); !ok {
			fail("ingest " + e.ID)
		}
	}

	fmt.Println("2. Dry run...")
	dry := true
	body, ok := send(baseURL, "POST", "/runs", server.RunRequest{Countries: []string{"RU"}, DryRun: &dry}, http.StatusOK)
	if !ok {
		fail("dry run")
	}
	var report struct {
		RunID  string `json:"run_id"`
		DryRun bool   `json:"dry_run"`
	}
	if err := json.Unmarshal(body, &report); err != nil || !report.DryRun || report.RunID == "" {
		fail("dry run report is invalid: " + string(body))
	}

	fmt.Println("3. Reading family...")
	body, ok = send(baseURL, "GET", "/events/"+a.ID, nil, http.StatusOK)
	if !ok {
		fail("read event")
	}
	var family server.EventResponse
	if err := json.Unmarshal(body, &family); err != nil || family.Event == nil {
		fail("event response is invalid: " + string(body))
	}
	if len(family.Mentions) != len(a.Mentions) {
		fail(fmt.Sprintf("expected %d mentions on %s, got %d", len(a.Mentions), a.ID, len(family.Mentions)))
	}
	fmt.Println("PASSED")
}

func waitHealthy(baseURL string, limit time.Duration) bool {
	deadline := time.Now().Add(limit)
	for time.Now().Before(deadline) {
		resp, err := client.Get(baseURL + "/healthz")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return true
			}
		}
		time.Sleep(500 * time.Millisecond)
	}
	return false
}

func send(baseURL, method, endpoint string, payload any, want int) ([]byte, bool) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			fmt.Printf("Error encoding request: %v\n", err)
			return nil, false
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, baseURL+endpoint, body)
	if err != nil {
		fmt.Printf("Error creating request: %v\n", err)
		return nil, false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		fmt.Printf("Error sending request: %v\n", err)
		return nil, false
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != want {
		fmt.Printf("%s %s: status %d: %s\n", method, endpoint, resp.StatusCode, string(respBody))
		return nil, false
	}
	return respBody, true
}

func fail(step string) {
	fmt.Println("FAILED:", step)
	os.Exit(1)
}
