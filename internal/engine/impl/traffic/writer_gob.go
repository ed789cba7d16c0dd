package traffic

import (
	"Go2NetNodes/internal/model"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// TimestampFormat names the per-report directories.
const TimestampFormat = "2006-01-02_15-04-05"

// SummaryData holds the metadata for a report, internal to the writer.
type SummaryData struct {
	TotalFlows   int    `json:"total_flows"`
	TotalBlocked int    `json:"total_blocked"`
	TotalNodes   int    `json:"total_nodes"`
	TotalBytes   uint64 `json:"total_bytes"`
	TotalPackets uint64 `json:"total_packets"`
	Timestamp    string `json:"timestamp"`
}

// GobWriter writes every report into its own timestamped directory: flows,
// blocked flows and nodes in gob format plus a JSON summary.
type GobWriter struct {
	rootPath string
}

// NewGobWriter creates a new writer rooted at rootPath.
func NewGobWriter(rootPath string) model.Writer {
	return &GobWriter{rootPath: rootPath}
}

func (w *GobWriter) Name() string { return "file" }

// Write serializes r to disk.
func (w *GobWriter) Write(r *model.TrafficReport) error {
	// 1. Create timestamped directory
	reportDir := filepath.Join(w.rootPath, r.Timestamp.UTC().Format(TimestampFormat))
	if err := os.MkdirAll(reportDir, 0755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}

	// 2. Write each non-empty part to a .dat file
	parts := []struct {
		file string
		data any
		n    int
	}{
		{"flows.dat", r.Flows, len(r.Flows)},
		{"blocked.dat", r.Blocked, len(r.Blocked)},
		{"nodes.dat", r.Nodes, len(r.Nodes)},
	}
	for _, p := range parts {
		if p.n == 0 {
			continue
		}
		if err := writeGob(filepath.Join(reportDir, p.file), p.data); err != nil {
			return err
		}
	}

	// 3. Write summary file
	summary := SummaryData{
		TotalFlows:   len(r.Flows),
		TotalBlocked: len(r.Blocked),
		TotalNodes:   len(r.Nodes),
		TotalBytes:   r.TotalBytes,
		TotalPackets: r.TotalPackets,
		Timestamp:    r.Timestamp.UTC().Format(time.RFC3339),
	}
	summaryFile, err := os.Create(filepath.Join(reportDir, "summary.json"))
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	defer summaryFile.Close()

	jsonEncoder := json.NewEncoder(summaryFile)
	jsonEncoder.SetIndent("", "  ")
	if err := jsonEncoder.Encode(summary); err != nil {
		return fmt.Errorf("failed to encode summary to json: %w", err)
	}
	return nil
}

func (w *GobWriter) Close() error { return nil }

func writeGob(path string, data any) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file '%s': %w", path, err)
	}
	defer file.Close()

	if err := gob.NewEncoder(file).Encode(data); err != nil {
		return fmt.Errorf("failed to encode report to gob for file '%s': %w", path, err)
	}
	return nil
}

// ReadFlows reads a flows.dat or blocked.dat file written by GobWriter.
func ReadFlows(path string) ([]model.FlowReport, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var flows []model.FlowReport
	if err := gob.NewDecoder(file).Decode(&flows); err != nil {
		return nil, fmt.Errorf("failed to decode flows from '%s': %w", path, err)
	}
	return flows, nil
}
