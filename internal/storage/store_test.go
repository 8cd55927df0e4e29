package storage

import (
	"sync"
	"testing"

	"github.com/dreamware/strata/internal/document"
)

func TestInsertAndScan(t *testing.T) {
	s := NewMemoryStore()

	if err := s.Insert("orders", document.Doc{"_id": 1}, document.Doc{"_id": 2}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	docs := s.Scan("orders")
	if len(docs) != 2 {
		t.Fatalf("Scan returned %d docs, want 2", len(docs))
	}
	if docs[0].Int64("_id") != 1 || docs[1].Int64("_id") != 2 {
		t.Error("Scan did not preserve insertion order")
	}
}

func TestScanUnknownCollection(t *testing.T) {
	s := NewMemoryStore()
	if docs := s.Scan("missing"); len(docs) != 0 {
		t.Errorf("Scan of unknown collection returned %d docs", len(docs))
	}
}

func TestScanReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	s.Insert("c", document.Doc{"v": 1})

	s.Scan("c")[0]["v"] = 99
	if s.Scan("c")[0].Int64("v") != 1 {
		t.Error("mutating a scanned document changed the store")
	}
}

func TestInsertCopiesInput(t *testing.T) {
	s := NewMemoryStore()
	d := document.Doc{"v": 1}
	s.Insert("c", d)
	d["v"] = 99
	if s.Scan("c")[0].Int64("v") != 1 {
		t.Error("mutating the inserted document changed the store")
	}
}

func TestReplace(t *testing.T) {
	s := NewMemoryStore()
	s.Insert("c", document.Doc{"old": true}, document.Doc{"old": true})

	if err := s.Replace("c", []document.Doc{{"new": true}}); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}
	docs := s.Scan("c")
	if len(docs) != 1 || !docs[0].Bool("new") {
		t.Errorf("Replace result = %v", docs)
	}
}

func TestReplaceCreatesCollection(t *testing.T) {
	s := NewMemoryStore()
	if err := s.Replace("fresh", []document.Doc{{"v": 1}}); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}
	if len(s.Scan("fresh")) != 1 {
		t.Error("Replace did not create the collection")
	}
}

func TestStats(t *testing.T) {
	s := NewMemoryStore()
	s.Insert("a", document.Doc{}, document.Doc{})
	s.Insert("b", document.Doc{})

	stats := s.Stats()
	if stats.Collections != 2 {
		t.Errorf("Collections = %d, want 2", stats.Collections)
	}
	if stats.Documents != 3 {
		t.Errorf("Documents = %d, want 3", stats.Documents)
	}
}

func TestConcurrentAccess(t *testing.T) {
	s := NewMemoryStore()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.Insert("c", document.Doc{"v": 1})
		}()
		go func() {
			defer wg.Done()
			s.Scan("c")
			s.Stats()
		}()
	}
	wg.Wait()

	if got := len(s.Scan("c")); got != 10 {
		t.Errorf("after concurrent inserts, Scan returned %d docs, want 10", got)
	}
}
