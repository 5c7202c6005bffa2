package storage

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"salesbot/internal/model"
)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	return lines
}

func TestJsonlStoragePutLogBatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "raw.jsonl")
	store := NewJsonlStorage(path)

	first := []model.LogRecord{{Market: "Facet NFT", Event: "OfferAccepted", BlockNumber: 1, LogIndex: 0}}
	second := []model.LogRecord{{Market: "Facet NFT", Event: "OfferAccepted", BlockNumber: 2, LogIndex: 3}}
	if err := store.PutLogBatch(first); err != nil {
		t.Fatalf("put first: %v", err)
	}
	if err := store.PutLogBatch(second); err != nil {
		t.Fatalf("put second: %v", err)
	}
	if err := store.PutLogBatch(nil); err != nil {
		t.Fatalf("put empty: %v", err)
	}

	lines := readLines(t, path)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}

	var decoded model.LogRecord
	if err := json.Unmarshal([]byte(lines[1]), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.BlockNumber != 2 || decoded.LogIndex != 3 {
		t.Fatalf("record mismatch: %+v", decoded)
	}
}

func TestJsonlStorageAppendMixedValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")
	store := NewJsonlStorage(path)

	sale := model.SaleRecord{TokenID: "42", ValueWei: "2.5"}
	failure := model.CorrelationError{Market: "Facet NFT", Error: "missing field"}
	if err := store.Append(sale, failure); err != nil {
		t.Fatalf("append: %v", err)
	}

	lines := readLines(t, path)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var got model.SaleRecord
	if err := json.Unmarshal([]byte(lines[0]), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got != sale {
		t.Fatalf("sale mismatch: %+v", got)
	}
}
