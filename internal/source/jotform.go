package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"kidscreen/internal/model"
	"kidscreen/internal/taskdef"
)

const (
	formPageSize = 100
	// Mild client-side rate limiting between page requests; the form API
	// throttles aggressively.
	formMinInterval = 250 * time.Millisecond
)

// FormClient fetches submissions from the primary form API
// (GET /form/{id}/submissions with offset/limit paging).
type FormClient struct {
	BaseURL  string
	APIKey   string
	FormID   string
	FieldMap taskdef.FieldMap

	HTTP *http.Client
}

func (c *FormClient) Kind() model.SourceKind { return model.SourcePrimary }

type formSubmission struct {
	ID        string `json:"id"`
	CreatedAt string `json:"created_at"`
	Answers   map[string]struct {
		Name   string          `json:"name"`
		Answer json.RawMessage `json:"answer"`
	} `json:"answers"`
}

type formPage struct {
	Content []formSubmission `json:"content"`
}

// FetchAll pages through every submission on the form. Field names are
// translated to canonical names; the session key arrives on the record and
// is never synthesized here.
func (c *FormClient) FetchAll(ctx context.Context) ([]model.Record, error) {
	client := c.HTTP
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	var records []model.Record
	seq := 0
	for offset := 0; ; offset += formPageSize {
		if offset > 0 {
			if err := sleepCtx(ctx, formMinInterval); err != nil {
				return nil, err
			}
		}
		page, err := c.fetchPage(ctx, client, offset)
		if err != nil {
			return nil, fmt.Errorf("fetch form page at offset %d: %w", offset, err)
		}
		for _, sub := range page {
			rec, err := c.toRecord(sub, seq)
			if err != nil {
				slog.Warn("skipping unparsable form submission", "id", sub.ID, "error", err)
				continue
			}
			records = append(records, rec)
			seq++
		}
		if len(page) < formPageSize {
			break
		}
	}
	slog.Info("fetched form submissions", "count", len(records))
	return records, nil
}

func (c *FormClient) fetchPage(ctx context.Context, client *http.Client, offset int) ([]formSubmission, error) {
	u := fmt.Sprintf("%s/form/%s/submissions?%s", c.BaseURL, c.FormID, url.Values{
		"apiKey": {c.APIKey},
		"offset": {fmt.Sprint(offset)},
		"limit":  {fmt.Sprint(formPageSize)},
	}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("form API returned %d: %s", resp.StatusCode, body)
	}

	var page formPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode form page: %w", err)
	}
	return page.Content, nil
}

func (c *FormClient) toRecord(sub formSubmission, seq int) (model.Record, error) {
	raw := make(map[string]string, len(sub.Answers))
	for _, a := range sub.Answers {
		if a.Name == "" {
			continue
		}
		raw[a.Name] = stringify(a.Answer)
	}
	fields := c.FieldMap.Translate(model.SourcePrimary, raw)

	studentID := fields[model.FieldStudentID]
	if studentID == "" {
		return model.Record{}, fmt.Errorf("submission %s has no student identifier", sub.ID)
	}
	at, err := time.Parse("2006-01-02 15:04:05", sub.CreatedAt)
	if err != nil {
		return model.Record{}, fmt.Errorf("parse created_at %q: %w", sub.CreatedAt, err)
	}

	return model.Record{
		StudentID:   studentID,
		SessionKey:  fields[model.FieldSessionKey],
		Source:      model.SourcePrimary,
		SubmittedAt: at,
		FetchSeq:    seq,
		Fields:      fields,
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
