package blockflow

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// FileStore keeps pairs in a text file, one "a b" pair per line.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// LoadPairs reads the file. A missing file holds no pairs.
func (s *FileStore) LoadPairs() ([]Pair, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open nodepair file: %w", err)
	}
	defer f.Close()

	var pairs []Pair
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 2 {
			return nil, fmt.Errorf("%s:%d: expected two node ids, got %q", s.path, line, text)
		}
		a, errA := strconv.Atoi(fields[0])
		b, errB := strconv.Atoi(fields[1])
		if err := errors.Join(errA, errB); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", s.path, line, err)
		}
		pairs = append(pairs, NewPair(a, b))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read nodepair file: %w", err)
	}
	return pairs, nil
}

// SavePairs replaces the file contents atomically.
func (s *FileStore) SavePairs(pairs []Pair) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create nodepair directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".nodepairs-*")
	if err != nil {
		return fmt.Errorf("failed to create nodepair file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	for _, p := range pairs {
		fmt.Fprintf(w, "%d %d\n", p.A, p.B)
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write nodepair file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write nodepair file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace nodepair file: %w", err)
	}
	return nil
}
