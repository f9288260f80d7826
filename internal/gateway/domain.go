// Package gateway talks to the two remote backends: the per-domain record
// API and the image host.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/phillip-england/clubadmin/internal/domains"
	"github.com/phillip-england/clubadmin/internal/records"
)

// DomainClient issues record calls for one view's backend domain.
type DomainClient struct {
	caller
	view domains.View
}

func NewDomainClient(baseURL string, view domains.View, httpClient *http.Client, logger *slog.Logger) *DomainClient {
	if httpClient == nil {
		httpClient = NewHTTPClient(0)
	}
	return &DomainClient{
		caller: caller{
			baseURL:    strings.TrimRight(baseURL, "/"),
			httpClient: httpClient,
			log:        logger.With("adapter", "domain", "view", view.Name),
		},
		view: view,
	}
}

func (c *DomainClient) View() domains.View { return c.view }

func (c *DomainClient) path(template, key string) string {
	return c.view.Path(template, url.PathEscape(key))
}

// List fetches every record of the domain. The backend may answer with a
// bare array or with {"data": [...]}.
func (c *DomainClient) List(ctx context.Context) ([]records.Record, error) {
	const op = "list records"
	body, err := c.do(ctx, op, http.MethodGet, c.path(c.view.Endpoints.List, ""), "", nil)
	if err != nil {
		return nil, err
	}
	list, err := records.ParseList(body)
	if err != nil {
		return nil, &ShapeError{Op: op, Err: err}
	}
	return list, nil
}

// Create posts payload and returns the stored record. When the backend only
// answers with a status message the payload is returned as is, without an
// identity key.
func (c *DomainClient) Create(ctx context.Context, payload records.Record) (records.Record, error) {
	const op = "create record"
	body, err := c.do(ctx, op, http.MethodPost, c.path(c.view.Endpoints.Create, ""), "application/json", []byte(payload.Raw()))
	if err != nil {
		return records.Record{}, err
	}
	return c.echoed(op, body, payload)
}

// Update replaces the record at key with payload.
func (c *DomainClient) Update(ctx context.Context, key string, payload records.Record) (records.Record, error) {
	const op = "update record"
	if key == "" {
		return records.Record{}, errors.New("update record: empty key")
	}
	body, err := c.do(ctx, op, http.MethodPut, c.path(c.view.Endpoints.Update, key), "application/json", []byte(payload.Raw()))
	if err != nil {
		return records.Record{}, err
	}
	rec, err := c.echoed(op, body, payload)
	if err != nil {
		return records.Record{}, err
	}
	if rec.Key(c.view.IDField) == "" {
		return rec.Set(c.view.IDField, key)
	}
	return rec, nil
}

// SetHighlight sends {"<highlight field>": on} as a partial update.
func (c *DomainClient) SetHighlight(ctx context.Context, key string, on bool) error {
	const op = "set highlight"
	if c.view.HighlightField == "" {
		return errors.New("set highlight: view has no highlight field")
	}
	body, err := sjson.SetBytes([]byte(`{}`), c.view.HighlightField, on)
	if err != nil {
		return err
	}
	_, err = c.do(ctx, op, http.MethodPatch, c.path(c.view.Endpoints.Highlight, key), "application/json", body)
	return err
}

func (c *DomainClient) Delete(ctx context.Context, key string) error {
	if key == "" {
		return errors.New("delete record: empty key")
	}
	_, err := c.do(ctx, "delete record", http.MethodDelete, c.path(c.view.Endpoints.Delete, key), "", nil)
	return err
}

// echoed picks the record out of a create/update answer: the object itself,
// its "data" member, or the submitted payload when only a message came back.
func (c *DomainClient) echoed(op string, body []byte, payload records.Record) (records.Record, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return payload, nil
	}
	if !gjson.ValidBytes(body) {
		return records.Record{}, &ShapeError{Op: op, Err: records.ErrMalformed}
	}
	res := gjson.ParseBytes(body)
	if !res.IsObject() {
		return payload, nil
	}
	if data := res.Get("data"); data.IsObject() {
		res = data
	}
	if !res.Get(c.view.IDField).Exists() {
		return payload, nil
	}
	rec, err := records.Parse(res.Raw)
	if err != nil {
		return records.Record{}, &ShapeError{Op: op, Err: err}
	}
	return rec, nil
}
