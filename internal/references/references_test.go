package references

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/clincite/clincite/internal/job"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMerge(t *testing.T) {
	live := []job.Reference{
		{PMID: "100", Citation: "Live A.", Source: job.RefSourcePubMed},
		{PMID: "200", Citation: "Live B.", Source: job.RefSourcePubMed},
	}
	curated := []job.Reference{
		{PMID: "100", Citation: "Duplicate of live A.", Source: job.RefSourceCurated},
		{Citation: "Curated C.", URL: "https://example.org/c", Source: job.RefSourceCurated},
	}

	merged := Merge(live, curated, 0)
	if len(merged) != 3 {
		t.Fatalf("merged = %d entries: %+v", len(merged), merged)
	}
	// Live results lead and win the PMID dedup.
	if merged[0].PMID != "100" || merged[0].Citation != "Live A." {
		t.Errorf("merged[0] = %+v", merged[0])
	}
	for i, ref := range merged {
		if ref.Number != i+1 {
			t.Errorf("merged[%d].Number = %d", i, ref.Number)
		}
	}
	// PMID entries get a canonical URL filled in.
	if merged[0].URL != PubMedURL("100") {
		t.Errorf("URL = %q", merged[0].URL)
	}
	if merged[2].URL != "https://example.org/c" {
		t.Errorf("curated URL overwritten: %q", merged[2].URL)
	}
}

func TestMergeDedupsByCitationText(t *testing.T) {
	refs := []job.Reference{
		{Citation: "TFOS DEWS II Management Report."},
		{Citation: "  tfos   dews ii management report. "},
	}
	merged := Merge(refs, nil, 0)
	if len(merged) != 1 {
		t.Errorf("merged = %d entries, want 1", len(merged))
	}
}

func TestMergeRespectsCap(t *testing.T) {
	var live []job.Reference
	for i := 0; i < 30; i++ {
		live = append(live, job.Reference{PMID: fmt.Sprintf("%d", i+1), Citation: "x"})
	}
	merged := Merge(live, nil, 0)
	if len(merged) != DefaultMaxReferences {
		t.Errorf("merged = %d entries, want %d", len(merged), DefaultMaxReferences)
	}
	merged = Merge(live, nil, 5)
	if len(merged) != 5 {
		t.Errorf("merged = %d entries, want 5", len(merged))
	}
}

func TestBuildQuery(t *testing.T) {
	terms := BuildQuery([]string{"Dry eye syndrome", "Glaucoma suspect"})

	joined := strings.ToLower(strings.Join(terms, "|"))
	if !strings.Contains(joined, "dry eye syndrome") || !strings.Contains(joined, "glaucoma suspect") {
		t.Errorf("labels missing from query: %v", terms)
	}
	if !strings.Contains(joined, "tfos dews ii") {
		t.Errorf("dry eye expansion missing: %v", terms)
	}
	if !strings.Contains(joined, "preferred practice pattern") {
		t.Errorf("glaucoma expansion missing: %v", terms)
	}
}

func TestBuildQueryCapsLabels(t *testing.T) {
	labels := []string{"one", "two", "three", "four", "five"}
	terms := BuildQuery(labels)
	for _, extra := range []string{"four", "five"} {
		for _, term := range terms {
			if term == extra {
				t.Errorf("label beyond the cap made it into the query: %q", extra)
			}
		}
	}
}

func TestPoolSelect(t *testing.T) {
	pool, err := LoadPool()
	if err != nil {
		t.Fatalf("LoadPool: %v", err)
	}
	if pool.Len() == 0 {
		t.Fatal("embedded pool is empty")
	}

	refs := pool.Select("dry eye syndrome with meibomian gland dysfunction")
	if len(refs) == 0 {
		t.Fatal("no curated references for dry eye")
	}
	for _, ref := range refs {
		if ref.Source != job.RefSourceCurated {
			t.Errorf("Source = %q", ref.Source)
		}
		if ref.Citation == "" || ref.URL == "" {
			t.Errorf("incomplete curated ref: %+v", ref)
		}
	}

	if refs := pool.Select("fracture of the left femur"); len(refs) != 0 {
		t.Errorf("unrelated diagnosis matched %d curated refs", len(refs))
	}
}

func TestCacheKey(t *testing.T) {
	a := CacheKey([]string{"Dry Eye", "glaucoma"})
	b := CacheKey([]string{"glaucoma", " dry eye ", "GLAUCOMA"})
	if a != b {
		t.Error("cache key must be order- and case-insensitive")
	}
	if a == CacheKey([]string{"glaucoma"}) {
		t.Error("different term sets must hash differently")
	}
}

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache(time.Hour)

	if _, ok := cache.Get(ctx, "k"); ok {
		t.Error("empty cache reported a hit")
	}
	cache.Set(ctx, "k", []job.Reference{{Number: 1, Citation: "x"}})
	refs, ok := cache.Get(ctx, "k")
	if !ok || len(refs) != 1 {
		t.Errorf("hit = %v, refs = %v", ok, refs)
	}

	expired := NewMemoryCache(-time.Second)
	expired.Set(ctx, "k", []job.Reference{{Number: 1, Citation: "x"}})
	if _, ok := expired.Get(ctx, "k"); ok {
		t.Error("expired entry reported a hit")
	}
}

// newPubMedTestServer fakes the esearch and esummary endpoints.
func newPubMedTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/esearch.fcgi", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("db") != "pubmed" {
			http.Error(w, "bad db", http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, `{"esearchresult": {"idlist": ["11111", "22222"]}}`)
	})
	mux.HandleFunc("/esummary.fcgi", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"result": {
			"11111": {"title": "Management of dry eye disease.", "source": "Ophthalmology", "pubdate": "2024 Jan", "authors": [{"name": "Craig JP"}, {"name": "Nelson JD"}]},
			"22222": {"title": "", "source": "J Irrelevant", "pubdate": "2020"}
		}}`)
	})
	return httptest.NewServer(mux)
}

func TestPubMedSearch(t *testing.T) {
	srv := newPubMedTestServer(t)
	defer srv.Close()

	client := NewPubMedClient(PubMedConfig{BaseURL: srv.URL, Timeout: 2 * time.Second})
	refs, err := client.Search(context.Background(), []string{"dry eye disease"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	// The untitled summary is dropped.
	if len(refs) != 1 {
		t.Fatalf("refs = %+v", refs)
	}
	ref := refs[0]
	if ref.PMID != "11111" || ref.Source != job.RefSourcePubMed {
		t.Errorf("ref = %+v", ref)
	}
	if ref.Citation != "Craig JP, et al. Management of dry eye disease. Ophthalmology. 2024." {
		t.Errorf("Citation = %q", ref.Citation)
	}
	if ref.URL != "https://pubmed.ncbi.nlm.nih.gov/11111/" {
		t.Errorf("URL = %q", ref.URL)
	}
}

func TestPubMedSearchEmptyTerms(t *testing.T) {
	client := NewPubMedClient(PubMedConfig{BaseURL: "http://127.0.0.1:1"})
	refs, err := client.Search(context.Background(), nil)
	if err != nil || refs != nil {
		t.Errorf("Search(nil) = %v, %v", refs, err)
	}
}

func TestPubMedServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewPubMedClient(PubMedConfig{BaseURL: srv.URL})
	if _, err := client.Search(context.Background(), []string{"x"}); err == nil {
		t.Error("server error must surface")
	}
}

func TestServiceRetrieveMergesSources(t *testing.T) {
	srv := newPubMedTestServer(t)
	defer srv.Close()

	pool, err := LoadPool()
	if err != nil {
		t.Fatalf("LoadPool: %v", err)
	}
	svc := NewService(NewPubMedClient(PubMedConfig{BaseURL: srv.URL}), pool, nil, 0, discardLogger())

	refs := svc.Retrieve(context.Background(), []string{"Dry eye syndrome"})
	if len(refs) < 2 {
		t.Fatalf("refs = %+v", refs)
	}

	sources := map[string]bool{}
	for i, ref := range refs {
		if ref.Number != i+1 {
			t.Errorf("refs[%d].Number = %d", i, ref.Number)
		}
		sources[ref.Source] = true
	}
	if !sources[job.RefSourcePubMed] || !sources[job.RefSourceCurated] {
		t.Errorf("sources = %v, want both live and curated", sources)
	}
}

func TestServiceRetrieveDegradesWithoutPubMed(t *testing.T) {
	pool, err := LoadPool()
	if err != nil {
		t.Fatalf("LoadPool: %v", err)
	}
	svc := NewService(nil, pool, nil, 0, discardLogger())

	refs := svc.Retrieve(context.Background(), []string{"primary open-angle glaucoma"})
	if len(refs) == 0 {
		t.Fatal("curated pool should still produce references")
	}
	for _, ref := range refs {
		if ref.Source != job.RefSourceCurated {
			t.Errorf("Source = %q", ref.Source)
		}
	}
}

func TestServiceRetrieveSearchFailureIsNotFatal(t *testing.T) {
	// Unroutable endpoint: the live search fails fast and retrieval degrades
	// to the curated pool.
	pool, err := LoadPool()
	if err != nil {
		t.Fatalf("LoadPool: %v", err)
	}
	client := NewPubMedClient(PubMedConfig{BaseURL: "http://127.0.0.1:1", Timeout: time.Second})
	svc := NewService(client, pool, nil, 0, discardLogger())

	refs := svc.Retrieve(context.Background(), []string{"dry eye"})
	if len(refs) == 0 {
		t.Fatal("retrieval must degrade, not fail")
	}
}

func TestServiceRetrieveUsesCache(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "esearch") {
			calls++
			fmt.Fprint(w, `{"esearchresult": {"idlist": ["11111"]}}`)
			return
		}
		fmt.Fprint(w, `{"result": {"11111": {"title": "Cached title.", "source": "J", "pubdate": "2023"}}}`)
	}))
	defer srv.Close()

	svc := NewService(NewPubMedClient(PubMedConfig{BaseURL: srv.URL}), nil, NewMemoryCache(time.Hour), 0, discardLogger())

	svc.Retrieve(context.Background(), []string{"dry eye"})
	svc.Retrieve(context.Background(), []string{"Dry Eye"})
	if calls != 1 {
		t.Errorf("esearch calls = %d, want 1 (second retrieval should hit the cache)", calls)
	}
}

func TestServiceRetrieveEmptyLabels(t *testing.T) {
	svc := NewService(nil, nil, nil, 0, discardLogger())
	refs := svc.Retrieve(context.Background(), nil)
	if refs == nil || len(refs) != 0 {
		t.Errorf("Retrieve(nil) = %v, want empty non-nil slice", refs)
	}
}
