// Package references builds the bibliographic reference list for a job from
// a live PubMed search and a curated pool of authoritative citations.
package references

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/clincite/clincite/internal/job"
)

// DefaultBaseURL is the NCBI eutils endpoint.
const DefaultBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

// PubMedClient queries the NCBI eutils API. The timeout is deliberately
// short; a slow search degrades to an empty result instead of stalling the
// pipeline.
type PubMedClient struct {
	baseURL    string
	httpClient *http.Client
	maxResults int
}

// PubMedConfig holds search settings.
type PubMedConfig struct {
	BaseURL    string
	Timeout    time.Duration // default 8s
	MaxResults int           // default 10
}

// NewPubMedClient creates a client with defaults filled in.
func NewPubMedClient(cfg PubMedConfig) *PubMedClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 8 * time.Second
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 10
	}
	return &PubMedClient{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		maxResults: cfg.MaxResults,
	}
}

// Search runs esearch then esummary and formats the hits as references.
func (c *PubMedClient) Search(ctx context.Context, terms []string) ([]job.Reference, error) {
	if len(terms) == 0 {
		return nil, nil
	}

	ids, err := c.esearch(ctx, terms)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return c.esummary(ctx, ids)
}

func (c *PubMedClient) esearch(ctx context.Context, terms []string) ([]string, error) {
	q := url.Values{}
	q.Set("db", "pubmed")
	q.Set("retmode", "json")
	q.Set("retmax", fmt.Sprintf("%d", c.maxResults))
	q.Set("sort", "relevance")
	q.Set("term", strings.Join(terms, " OR "))

	var parsed struct {
		ESearchResult struct {
			IDList []string `json:"idlist"`
		} `json:"esearchresult"`
	}
	if err := c.getJSON(ctx, "/esearch.fcgi?"+q.Encode(), &parsed); err != nil {
		return nil, err
	}
	return parsed.ESearchResult.IDList, nil
}

func (c *PubMedClient) esummary(ctx context.Context, ids []string) ([]job.Reference, error) {
	q := url.Values{}
	q.Set("db", "pubmed")
	q.Set("retmode", "json")
	q.Set("id", strings.Join(ids, ","))

	var parsed struct {
		Result map[string]json.RawMessage `json:"result"`
	}
	if err := c.getJSON(ctx, "/esummary.fcgi?"+q.Encode(), &parsed); err != nil {
		return nil, err
	}

	refs := make([]job.Reference, 0, len(ids))
	for _, id := range ids {
		raw, ok := parsed.Result[id]
		if !ok {
			continue
		}
		var doc struct {
			Title   string `json:"title"`
			Source  string `json:"source"`
			PubDate string `json:"pubdate"`
			Authors []struct {
				Name string `json:"name"`
			} `json:"authors"`
		}
		if err := json.Unmarshal(raw, &doc); err != nil || doc.Title == "" {
			continue
		}
		refs = append(refs, job.Reference{
			PMID:     id,
			Citation: formatCitation(doc.Authors, doc.Title, doc.Source, doc.PubDate),
			URL:      PubMedURL(id),
			Source:   job.RefSourcePubMed,
		})
	}
	return refs, nil
}

func (c *PubMedClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create pubmed request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("pubmed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("pubmed returned %d: %s", resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode pubmed response: %w", err)
	}
	return nil
}

// PubMedURL returns the canonical article URL for a PMID.
func PubMedURL(pmid string) string {
	return "https://pubmed.ncbi.nlm.nih.gov/" + pmid + "/"
}

// formatCitation renders "First Author, et al. Title. Journal. Year."
func formatCitation(authors []struct {
	Name string `json:"name"`
}, title, source, pubdate string) string {
	var b strings.Builder
	if len(authors) > 0 {
		b.WriteString(authors[0].Name)
		if len(authors) > 1 {
			b.WriteString(", et al")
		}
		b.WriteString(". ")
	}
	b.WriteString(strings.TrimSuffix(strings.TrimSpace(title), "."))
	b.WriteString(". ")
	if source != "" {
		b.WriteString(source)
		b.WriteString(". ")
	}
	if year := firstField(pubdate); year != "" {
		b.WriteString(year)
		b.WriteString(".")
	}
	return strings.TrimSpace(b.String())
}

func firstField(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
