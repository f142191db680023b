package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/utldo-dev/im-review-api/internal/workflow"
	appErrors "github.com/utldo-dev/im-review-api/pkg/errors"
)

// LegacyClient talks to the legacy backend during cutover: metadata reads
// and document analysis still live there. The legacy API is inconsistent
// about list shapes and reports failures inside 200 responses, so every
// response passes through NormalizeList / checkErrorField exactly once at
// this boundary.
type LegacyClient struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewLegacyClient constructs the client.
func NewLegacyClient(baseURL string, timeout time.Duration, logger *zap.Logger) *LegacyClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LegacyClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// NormalizeList maps the three legacy list shapes to one canonical slice:
// a bare JSON array, {"data":[...]}, or {"<domainKey>":[...]} (e.g.
// "departments"). Nothing downstream ever branches on response shape again.
func NormalizeList(raw []byte, domainKey string) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("decode list body: %w", err)
		}
		return items, nil
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, fmt.Errorf("decode envelope body: %w", err)
	}
	if err := checkErrorField(envelope); err != nil {
		return nil, err
	}
	for _, key := range []string{"data", domainKey} {
		payload, ok := envelope[key]
		if !ok {
			continue
		}
		var items []json.RawMessage
		if err := json.Unmarshal(payload, &items); err != nil {
			return nil, fmt.Errorf("decode %q list: %w", key, err)
		}
		return items, nil
	}
	return nil, fmt.Errorf("no list found under %q or %q", "data", domainKey)
}

// checkErrorField treats a non-empty "error" string as failure even when
// the transport said 200.
func checkErrorField(envelope map[string]json.RawMessage) error {
	raw, ok := envelope["error"]
	if !ok {
		return nil
	}
	var msg string
	if err := json.Unmarshal(raw, &msg); err != nil || msg == "" {
		return nil
	}
	return appErrors.Clone(appErrors.ErrUpstream, msg)
}

// FetchList issues a GET and returns the normalized item slice.
func (c *LegacyClient) FetchList(ctx context.Context, path, domainKey string, params url.Values) ([]json.RawMessage, error) {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUpstream.Code, appErrors.ErrUpstream.Status, "legacy request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUpstream.Code, appErrors.ErrUpstream.Status, "read legacy response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, appErrors.Clone(appErrors.ErrUpstream, fmt.Sprintf("legacy returned %d for %s", resp.StatusCode, path))
	}
	return NormalizeList(body, domainKey)
}

// FetchOne fetches a list endpoint expected to hold a single entity and
// decodes the first item into dest.
func (c *LegacyClient) FetchOne(ctx context.Context, path, domainKey string, params url.Values, dest interface{}) error {
	items, err := c.FetchList(ctx, path, domainKey, params)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return appErrors.ErrNotFound
	}
	return json.Unmarshal(items[0], dest)
}

// AnalyzeDocument uploads the document as multipart form data under the
// single "pdf_file" field and returns the section analysis verdict. Any
// analyzer failure is a blocking error: an upload must never pass by
// default.
func (c *LegacyClient) AnalyzeDocument(ctx context.Context, filename string, content io.Reader) (workflow.AnalysisResult, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("pdf_file", filename)
	if err != nil {
		return workflow.AnalysisResult{}, appErrors.Wrap(err, appErrors.ErrAnalysisFailed.Code, appErrors.ErrAnalysisFailed.Status, "build analysis payload")
	}
	if _, err := io.Copy(part, content); err != nil {
		return workflow.AnalysisResult{}, appErrors.Wrap(err, appErrors.ErrAnalysisFailed.Code, appErrors.ErrAnalysisFailed.Status, "copy analysis payload")
	}
	if err := writer.Close(); err != nil {
		return workflow.AnalysisResult{}, appErrors.Wrap(err, appErrors.ErrAnalysisFailed.Code, appErrors.ErrAnalysisFailed.Status, "finalize analysis payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze", &body)
	if err != nil {
		return workflow.AnalysisResult{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return workflow.AnalysisResult{}, appErrors.Wrap(err, appErrors.ErrAnalysisFailed.Code, appErrors.ErrAnalysisFailed.Status, "analysis request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return workflow.AnalysisResult{}, appErrors.Wrap(err, appErrors.ErrAnalysisFailed.Code, appErrors.ErrAnalysisFailed.Status, "read analysis response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return workflow.AnalysisResult{}, appErrors.Clone(appErrors.ErrAnalysisFailed, fmt.Sprintf("analyzer returned %d", resp.StatusCode))
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return workflow.AnalysisResult{}, appErrors.Wrap(err, appErrors.ErrAnalysisFailed.Code, appErrors.ErrAnalysisFailed.Status, "decode analysis response")
	}
	if err := checkErrorField(envelope); err != nil {
		return workflow.AnalysisResult{}, appErrors.Wrap(err, appErrors.ErrAnalysisFailed.Code, appErrors.ErrAnalysisFailed.Status, "analyzer reported failure")
	}

	var result workflow.AnalysisResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return workflow.AnalysisResult{}, appErrors.Wrap(err, appErrors.ErrAnalysisFailed.Code, appErrors.ErrAnalysisFailed.Status, "decode analysis verdict")
	}
	return result, nil
}
