package kb

import (
	"context"
	"testing"
)

func seedIndex(t *testing.T) *Index {
	t.Helper()
	ix := NewIndex(NewHashEmbedder(128))
	err := ix.Add(context.Background(),
		Document{
			ID:       "ex-count",
			Content:  "Question: How many employees are there?\nSQL: SELECT COUNT(*) FROM employees",
			Metadata: map[string]string{MetaType: TypeExample},
		},
		Document{
			ID:       "ex-salary",
			Content:  "Question: What is the average salary by department?\nSQL: SELECT department, AVG(salary) FROM employees GROUP BY department",
			Metadata: map[string]string{MetaType: TypeExample},
		},
		Document{
			ID:       "table-employees",
			Content:  "Table: employees\n  id INT\n  name TEXT\n  salary REAL\n  department TEXT",
			Metadata: map[string]string{MetaType: TypeSchema, "table": "employees"},
		},
	)
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	return ix
}

func TestSearchRanksBySimilarity(t *testing.T) {
	ix := seedIndex(t)

	docs, err := ix.Search(context.Background(), "how many employees do we have", 1, nil)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("result count = %d, want 1", len(docs))
	}
	if docs[0].ID != "ex-count" {
		t.Errorf("top result = %s, want ex-count", docs[0].ID)
	}
}

func TestSearchFilterRestrictsType(t *testing.T) {
	ix := seedIndex(t)

	docs, err := ix.Search(context.Background(), "employees", 10,
		map[string]string{MetaType: TypeExample})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("result count = %d, want 2 examples", len(docs))
	}
	for _, doc := range docs {
		if doc.Metadata[MetaType] != TypeExample {
			t.Errorf("document %s has type %s, want example", doc.ID, doc.Metadata[MetaType])
		}
	}
}

func TestSearchHonorsK(t *testing.T) {
	ix := seedIndex(t)

	docs, err := ix.Search(context.Background(), "employees", 2, nil)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(docs) != 2 {
		t.Errorf("result count = %d, want 2", len(docs))
	}

	docs, err = ix.Search(context.Background(), "employees", 0, nil)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("result count with k=0 = %d, want 0", len(docs))
	}
}

func TestHashEmbedderDeterministic(t *testing.T) {
	embedder := NewHashEmbedder(64)
	ctx := context.Background()

	a, err := embedder.Embed(ctx, "select count from employees")
	if err != nil {
		t.Fatalf("embed failed: %v", err)
	}
	b, err := embedder.Embed(ctx, "select count from employees")
	if err != nil {
		t.Fatalf("embed failed: %v", err)
	}

	if len(a) != 64 {
		t.Errorf("dimension = %d, want 64", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("embedding is not deterministic")
		}
	}

	if got := cosine(a, b); got < 0.999 {
		t.Errorf("self similarity = %f, want ~1", got)
	}
}
