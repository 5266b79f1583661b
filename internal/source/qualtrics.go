package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"kidscreen/internal/model"
	"kidscreen/internal/taskdef"
)

// SurveyClient fetches responses from the secondary survey platform. The
// platform exposes no direct listing; responses come out through a
// three-step export: start an export job, poll until it completes, download
// the result file.
type SurveyClient struct {
	BaseURL  string
	APIToken string
	SurveyID string
	FieldMap taskdef.FieldMap

	HTTP *http.Client
	// PollInterval between export progress checks. Zero means one second.
	PollInterval time.Duration
}

func (c *SurveyClient) Kind() model.SourceKind { return model.SourceSecondary }

type exportProgress struct {
	Result struct {
		ProgressID      string  `json:"progressId"`
		PercentComplete float64 `json:"percentComplete"`
		Status          string  `json:"status"`
		FileID          string  `json:"fileId"`
	} `json:"result"`
}

type surveyExport struct {
	Responses []struct {
		ResponseID string                     `json:"responseId"`
		Values     map[string]json.RawMessage `json:"values"`
	} `json:"responses"`
}

// FetchAll runs the full export cycle and returns every response as a
// canonical record. Responses without a student identifier after field
// translation are logged and skipped.
func (c *SurveyClient) FetchAll(ctx context.Context) ([]model.Record, error) {
	client := c.HTTP
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}

	progressID, err := c.startExport(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("start survey export: %w", err)
	}
	fileID, err := c.awaitExport(ctx, client, progressID)
	if err != nil {
		return nil, fmt.Errorf("await survey export: %w", err)
	}
	export, err := c.downloadExport(ctx, client, fileID)
	if err != nil {
		return nil, fmt.Errorf("download survey export: %w", err)
	}

	var records []model.Record
	for seq, resp := range export.Responses {
		rec, err := c.toRecord(resp.ResponseID, resp.Values, seq)
		if err != nil {
			slog.Warn("skipping unparsable survey response", "id", resp.ResponseID, "error", err)
			continue
		}
		records = append(records, rec)
	}
	slog.Info("fetched survey responses", "count", len(records))
	return records, nil
}

func (c *SurveyClient) startExport(ctx context.Context, client *http.Client) (string, error) {
	body := bytes.NewBufferString(`{"format":"json","compress":false}`)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/API/v3/surveys/%s/export-responses", c.BaseURL, c.SurveyID), body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	var progress exportProgress
	if err := c.do(client, req, &progress); err != nil {
		return "", err
	}
	if progress.Result.ProgressID == "" {
		return "", fmt.Errorf("export job returned no progress ID")
	}
	return progress.Result.ProgressID, nil
}

func (c *SurveyClient) awaitExport(ctx context.Context, client *http.Client, progressID string) (string, error) {
	interval := c.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			fmt.Sprintf("%s/API/v3/surveys/%s/export-responses/%s", c.BaseURL, c.SurveyID, progressID), nil)
		if err != nil {
			return "", err
		}
		var progress exportProgress
		if err := c.do(client, req, &progress); err != nil {
			return "", err
		}
		switch progress.Result.Status {
		case "complete":
			return progress.Result.FileID, nil
		case "failed":
			return "", fmt.Errorf("export job %s failed", progressID)
		}
		slog.Debug("survey export in progress",
			"progress_id", progressID, "percent", progress.Result.PercentComplete)
		if err := sleepCtx(ctx, interval); err != nil {
			return "", err
		}
	}
}

func (c *SurveyClient) downloadExport(ctx context.Context, client *http.Client, fileID string) (*surveyExport, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/API/v3/surveys/%s/export-responses/%s/file", c.BaseURL, c.SurveyID, fileID), nil)
	if err != nil {
		return nil, err
	}
	var export surveyExport
	if err := c.do(client, req, &export); err != nil {
		return nil, err
	}
	return &export, nil
}

func (c *SurveyClient) do(client *http.Client, req *http.Request, out any) error {
	req.Header.Set("X-API-TOKEN", c.APIToken)
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("survey API returned %d: %s", resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode survey response: %w", err)
	}
	return nil
}

func (c *SurveyClient) toRecord(responseID string, values map[string]json.RawMessage, seq int) (model.Record, error) {
	raw := make(map[string]string, len(values))
	var recordedAt string
	for name, value := range values {
		s := stringify(value)
		if name == "recordedDate" {
			recordedAt = s
			continue
		}
		raw[name] = s
	}
	fields := c.FieldMap.Translate(model.SourceSecondary, raw)

	studentID := fields[model.FieldStudentID]
	if studentID == "" {
		return model.Record{}, fmt.Errorf("response %s has no student identifier", responseID)
	}
	if recordedAt == "" {
		return model.Record{}, fmt.Errorf("response %s has no recorded date", responseID)
	}
	at, err := time.Parse(time.RFC3339, recordedAt)
	if err != nil {
		return model.Record{}, fmt.Errorf("parse recordedDate %q: %w", recordedAt, err)
	}

	return model.Record{
		StudentID:   studentID,
		SessionKey:  fields[model.FieldSessionKey],
		Source:      model.SourceSecondary,
		SubmittedAt: at,
		FetchSeq:    seq,
		Fields:      fields,
	}, nil
}
