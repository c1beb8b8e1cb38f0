package json

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/lucilliform/lucilliform/pkg/pool"
)

type testRecord struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Value     float64                `json:"value"`
	Tags      []string               `json:"tags"`
	Metadata  map[string]interface{} `json:"metadata"`
	Timestamp int64                  `json:"timestamp"`
}

func generateTestRecords(n int) []*testRecord {
	records := make([]*testRecord, n)
	for i := 0; i < n; i++ {
		records[i] = &testRecord{
			ID:    pool.GenerateID("test"),
			Name:  "Test Record",
			Value: float64(i) * 1.5,
			Tags:  []string{"tag1", "tag2", "tag3"},
			Metadata: map[string]interface{}{
				"source":   "benchmark",
				"version":  "1.0",
				"index":    i,
				"category": "test",
			},
			Timestamp: 1234567890,
		}
	}
	return records
}

func BenchmarkPooledEncoder(b *testing.B) {
	records := generateTestRecords(100)
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		buf := GetBuffer()
		enc := GetEncoder(buf)

		for _, record := range records {
			if err := enc.Encode(record); err != nil {
				b.Fatal(err)
			}
		}

		PutEncoder(enc)
		PutBuffer(buf)
	}

	b.ReportMetric(float64(len(records)*b.N), "records/op")
}

func BenchmarkStreamingEncoder(b *testing.B) {
	records := generateTestRecords(100)
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		var buf bytes.Buffer
		enc := NewStreamingEncoder(&buf, false)

		for _, record := range records {
			if err := enc.Encode(record); err != nil {
				b.Fatal(err)
			}
		}

		_ = enc.Close()
	}

	b.ReportMetric(float64(len(records)*b.N), "records/op")
}

func BenchmarkMarshalLines(b *testing.B) {
	records := generateTestRecords(100)
	values := make([]interface{}, len(records))
	for i, r := range records {
		values[i] = r
	}
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := MarshalLines(values); err != nil {
			b.Fatal(err)
		}
	}

	b.ReportMetric(float64(len(records)*b.N), "records/op")
}

func TestMarshalCorrectness(t *testing.T) {
	record := &testRecord{
		ID:    "test-123",
		Name:  "Test Record",
		Value: 42.5,
		Tags:  []string{"tag1", "tag2"},
		Metadata: map[string]interface{}{
			"key": "value",
		},
		Timestamp: 1234567890,
	}

	stdData, err := json.Marshal(record)
	if err != nil {
		t.Fatal(err)
	}

	optData, err := Marshal(record)
	if err != nil {
		t.Fatal(err)
	}

	var stdResult, optResult map[string]interface{}
	if err := json.Unmarshal(stdData, &stdResult); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(optData, &optResult); err != nil {
		t.Fatal(err)
	}

	if stdResult["id"] != optResult["id"] {
		t.Errorf("ID mismatch: %v != %v", stdResult["id"], optResult["id"])
	}
	if stdResult["name"] != optResult["name"] {
		t.Errorf("Name mismatch: %v != %v", stdResult["name"], optResult["name"])
	}
}

func TestMarshalLines(t *testing.T) {
	values := []interface{}{
		map[string]interface{}{"a": 1},
		map[string]interface{}{"b": 2},
	}

	out, err := MarshalLines(values)
	if err != nil {
		t.Fatal(err)
	}

	lines := bytes.Split(bytes.TrimRight(out, "\n"), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
}
