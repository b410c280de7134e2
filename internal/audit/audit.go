package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/elastic/go-elasticsearch/v9"

	"github.com/maxzhirnov/otp-auth/internal/config"
	"github.com/maxzhirnov/otp-auth/internal/logging"
)

// Entry is one audit record in the auth_audit index.
type Entry struct {
	Type     string    `json:"type"`
	Email    string    `json:"email,omitempty"`
	UserID   string    `json:"user_id,omitempty"`
	ClientIP string    `json:"client_ip,omitempty"`
	At       time.Time `json:"at"`
}

type Recorder struct {
	ES    *elasticsearch.Client
	Index string
}

func NewClient(cfg *config.Config) (*elasticsearch.Client, error) {
	esCfg := elasticsearch.Config{
		Addresses: []string{cfg.ES_URL},
		Username:  cfg.ES_USER,
		Password:  cfg.ES_PASSWORD,
	}

	client, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}

	res, err := client.Info()
	if err != nil {
		return nil, fmt.Errorf("elasticsearch info: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("elasticsearch error: %s: %s", res.Status(), body)
	}

	log.Printf("connected to Elasticsearch at %s", cfg.ES_URL)
	return client, nil
}

// Record indexes the entry best-effort. Audit failures are logged and never
// fail the request that produced them.
func (r *Recorder) Record(ctx context.Context, e Entry) {
	l := logging.FromContext(ctx).With("component", "audit")
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	body, err := json.Marshal(e)
	if err != nil {
		l.Error("audit_encode_failed", "error", err)
		return
	}

	res, err := r.ES.Index(
		r.Index,
		bytes.NewReader(body),
		r.ES.Index.WithContext(ctx),
	)
	if err != nil {
		l.Error("audit_index_failed", "error", err)
		return
	}
	defer res.Body.Close()
	if res.IsError() {
		l.Error("audit_index_failed", "status", res.Status())
	}
}

// Search returns audit entries, newest first, optionally filtered by email.
func (r *Recorder) Search(ctx context.Context, email string, from, size int) (int64, []Entry, error) {
	query := map[string]any{"match_all": map[string]any{}}
	if email != "" {
		query = map[string]any{
			"term": map[string]any{"email.keyword": email},
		}
	}
	body := map[string]any{
		"query": query,
		"sort":  []map[string]any{{"at": map[string]any{"order": "desc"}}},
		"from":  from,
		"size":  size,
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return 0, nil, err
	}

	res, err := r.ES.Search(
		r.ES.Search.WithContext(ctx),
		r.ES.Search.WithIndex(r.Index),
		r.ES.Search.WithBody(&buf),
	)
	if err != nil {
		return 0, nil, fmt.Errorf("audit search: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, nil, fmt.Errorf("audit search: %s", res.Status())
	}

	var parsed struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				Source Entry `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return 0, nil, err
	}

	entries := make([]Entry, len(parsed.Hits.Hits))
	for i, hit := range parsed.Hits.Hits {
		entries[i] = hit.Source
	}
	return parsed.Hits.Total.Value, entries, nil
}
