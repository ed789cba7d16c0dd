package main

import (
	"Go2NetNodes/internal/config"
	"Go2NetNodes/internal/query"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

func main() {
	mode := flag.String("mode", "api", "Query mode: 'api' to query via HTTP API, 'direct' to query ClickHouse directly.")
	apiURL := flag.String("api", "http://localhost:8080", "Base URL of the API server.")
	configPath := flag.String("config", "configs/config.yaml", "Configuration file with the ClickHouse writer (direct mode).")
	node := flag.Int("node", 0, "Node whose peers to list; 0 lists the top nodes.")
	since := flag.Duration("since", 24*time.Hour, "How far back to look.")
	limit := flag.Int("limit", 20, "Maximum number of rows.")
	flag.Parse()

	start := time.Now().Add(-*since).UTC()
	log.Printf("Running in '%s' mode.", *mode)

	switch *mode {
	case "api":
		queryViaAPI(*apiURL, *node, start, *limit)
	case "direct":
		directQueryClickHouse(*configPath, *node, start, *limit)
	default:
		log.Fatalf("Invalid mode: %s. Use 'api' or 'direct'.", *mode)
	}
}

func queryViaAPI(base string, node int, since time.Time, limit int) {
	params := url.Values{}
	params.Set("since", since.Format(time.RFC3339))
	params.Set("limit", strconv.Itoa(limit))
	path := "/api/v1/top"
	if node > 0 {
		path = fmt.Sprintf("/api/v1/nodes/%d/history", node)
	}
	u := base + path + "?" + params.Encode()
	log.Printf("Sending request to %s", u)

	resp, err := http.Get(u)
	if err != nil {
		log.Fatalf("Error sending request: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("Error reading response body: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("API returned non-200 status code: %d\nResponse: %s", resp.StatusCode, string(respBody))
	}

	var prettyJSON bytes.Buffer
	if err := json.Indent(&prettyJSON, respBody, "", "  "); err != nil {
		log.Printf("Could not prettify JSON, printing raw response:")
		fmt.Println(string(respBody))
		return
	}
	fmt.Println(prettyJSON.String())
}

func directQueryClickHouse(configPath string, node int, since time.Time, limit int) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	ch, ok := cfg.ClickHouse()
	if !ok {
		log.Fatalf("No enabled ClickHouse writer in %s", configPath)
	}
	q, err := query.NewClickHouseQuerier(ch)
	if err != nil {
		log.Fatalf("Error connecting to ClickHouse: %v", err)
	}
	defer q.Close()

	ctx := context.Background()
	if node == 0 {
		totals, err := q.TopNodes(ctx, since, limit)
		if err != nil {
			log.Fatalf("Error executing query: %v", err)
		}
		for _, t := range totals {
			fmt.Printf("node %-6d packets %-10d bytes %d\n", t.Node, t.Packets, t.Bytes)
		}
		return
	}

	totals, err := q.PeerTotals(ctx, query.PeerRequest{Node: node, Since: since, Limit: limit})
	if err != nil {
		log.Fatalf("Error executing query: %v", err)
	}
	if len(totals) == 0 {
		log.Println("No data found for the specified criteria.")
	}
	for _, t := range totals {
		fmt.Printf("peer %-6d packets %-10d bytes %-12d last seen %s\n", t.Peer, t.Packets, t.Bytes, t.LastSeen.Format(time.RFC3339))
	}
}
