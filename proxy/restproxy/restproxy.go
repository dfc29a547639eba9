// Package restproxy persists records through a JSON HTTP API:
//
//	POST   {base}/{type}       create, responds with the stored record
//	GET    {base}/{type}/{id}  read
//	PUT    {base}/{type}/{id}  update, responds with the stored record
//	DELETE {base}/{type}/{id}  destroy
//
// An empty 2xx response body leaves the model as sent.
package restproxy

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/teranos/datagraph/errors"
	"github.com/teranos/datagraph/internal/httpclient"
	"github.com/teranos/datagraph/logger"
	"github.com/teranos/datagraph/proxy"
)

// maxErrorBody caps how much of an error response is quoted in errors.
const maxErrorBody = 4 << 10

// Store is a proxy.Store speaking to a REST endpoint
type Store struct {
	base   *url.URL
	client *httpclient.SaferClient
	log    *zap.SugaredLogger
}

// New validates baseURL against the client's SSRF rules and creates a store
func New(baseURL string, client *httpclient.SaferClient, log *zap.SugaredLogger) (*Store, error) {
	base, err := client.ValidateURL(baseURL)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid REST base URL %q", baseURL)
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Store{base: base, client: client, log: log}, nil
}

func (s *Store) Create(ctx context.Context, key proxy.Key, data map[string]any) (map[string]any, error) {
	return s.do(ctx, http.MethodPost, key, s.target(key.Type), data)
}

func (s *Store) Read(ctx context.Context, key proxy.Key) (map[string]any, error) {
	return s.do(ctx, http.MethodGet, key, s.target(key.Type, key.ID), nil)
}

func (s *Store) Update(ctx context.Context, key proxy.Key, data map[string]any) (map[string]any, error) {
	return s.do(ctx, http.MethodPut, key, s.target(key.Type, key.ID), data)
}

func (s *Store) Delete(ctx context.Context, key proxy.Key) error {
	_, err := s.do(ctx, http.MethodDelete, key, s.target(key.Type, key.ID), nil)
	return err
}

// target escapes each segment so ids containing slashes stay one segment
func (s *Store) target(segments ...string) *url.URL {
	escaped := make([]string, len(segments))
	for i, seg := range segments {
		escaped[i] = url.PathEscape(seg)
	}
	return s.base.JoinPath(escaped...)
}

func (s *Store) do(ctx context.Context, method string, key proxy.Key, target *url.URL, data map[string]any) (map[string]any, error) {
	var body io.Reader
	if data != nil {
		payload, err := json.Marshal(data)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to encode %s record", key.Type)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, target.Redacted())
	}
	defer resp.Body.Close()

	s.log.Debugw("REST response",
		logger.FieldMethod, method,
		logger.FieldURL, target.Redacted(),
		logger.FieldStatus, resp.StatusCode)

	if resp.StatusCode == http.StatusNotFound {
		return nil, errors.NewNotFoundError("%s %s not found", key.Type, key.ID)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, errors.WithDetailf(
			errors.Newf("%s %s: unexpected status %d", method, target.Redacted(), resp.StatusCode),
			"response body: %s", bytes.TrimSpace(snippet))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response")
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var record map[string]any
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, errors.Wrap(err, "failed to decode response")
	}
	return record, nil
}
