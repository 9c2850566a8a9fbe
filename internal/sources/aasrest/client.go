// Package aasrest reads AAS trees from a repository speaking the AAS part 2
// HTTP API (shells, submodels and concept descriptions endpoints).
package aasrest

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"resty.dev/v3"

	"github.com/agentstation/assetsync/internal/aasjson"
	"github.com/agentstation/assetsync/pkg/constants"
	"github.com/agentstation/assetsync/pkg/errors"
	"github.com/agentstation/assetsync/pkg/sources"
	"github.com/agentstation/assetsync/pkg/tree"
)

// Source is a sources.Source backed by an AAS repository.
type Source struct {
	endpoint   string
	pageSize   int
	timeout    time.Duration
	headers    map[string]string
	httpClient *http.Client
	resty      *resty.Client
}

var _ sources.Source = (*Source)(nil)

// Option configures a Source.
type Option func(*Source)

// WithHTTPClient sends requests through client.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Source) {
		s.httpClient = client
	}
}

// WithHeader adds a header to every request, e.g. Authorization.
func WithHeader(key, value string) Option {
	return func(s *Source) {
		s.headers[key] = value
	}
}

// WithPageSize sets the limit query parameter. Zero disables paging.
func WithPageSize(n int) Option {
	return func(s *Source) {
		s.pageSize = n
	}
}

// WithTimeout bounds every request.
func WithTimeout(d time.Duration) Option {
	return func(s *Source) {
		s.timeout = d
	}
}

// New creates a Source for the repository at endpoint.
func New(endpoint string, opts ...Option) *Source {
	s := &Source{
		endpoint: strings.TrimRight(endpoint, "/"),
		pageSize: constants.DefaultPageSize,
		timeout:  constants.DefaultHTTPTimeout,
		headers:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.httpClient != nil {
		s.resty = resty.NewWithClient(s.httpClient)
	} else {
		s.resty = resty.New()
	}
	s.resty.SetTimeout(s.timeout)
	s.resty.SetHeaders(s.headers)
	return s
}

// URI implements sources.Source.
func (s *Source) URI() string {
	return s.endpoint
}

// Close releases idle connections.
func (s *Source) Close() error {
	return s.resty.Close()
}

// Available implements sources.Source. Any HTTP answer counts; credentials
// are checked by the fetch itself.
func (s *Source) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, constants.AvailabilityTimeout)
	defer cancel()

	resp, err := s.resty.R().
		SetContext(ctx).
		SetQueryParam("limit", "1").
		Get(s.endpoint + "/" + sources.Shells.String())
	if err != nil {
		return false
	}

	//nolint:errcheck
	defer resp.Body.Close()

	return resp.StatusCode() > 0
}

// page is the paged response envelope.
type page struct {
	Result         []json.RawMessage `json:"result"`
	PagingMetadata struct {
		Cursor string `json:"cursor"`
	} `json:"paging_metadata"`
}

// FetchTopLevel implements sources.Source.
func (s *Source) FetchTopLevel(ctx context.Context, category sources.Category, cursor string) (sources.Page, error) {
	url := s.endpoint + "/" + category.String()

	req := s.resty.R().SetContext(ctx).SetHeader("Accept", constants.ContentTypeJSON)
	if s.pageSize > 0 {
		req.SetQueryParam("limit", strconv.Itoa(s.pageSize))
	}
	if cursor != "" {
		req.SetQueryParam("cursor", cursor)
	}

	resp, err := req.Get(url)
	if err != nil {
		if ctx.Err() != nil {
			return sources.Page{}, ctx.Err()
		}
		if unreachable(err) {
			return sources.Page{}, fmt.Errorf("%s: %w: %w", url, errors.ErrUnavailable, err)
		}
		return sources.Page{}, errors.WrapResource("fetch", string(category), s.endpoint, err)
	}

	//nolint:errcheck
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return sources.Page{}, errors.WrapIO("read", url, err)
	}

	if resp.StatusCode() != http.StatusOK {
		apiErr := errors.WrapAPI(s.endpoint, resp.StatusCode(), fmt.Errorf("GET %s: %s", url, truncate(body)))
		if e, ok := apiErr.(*errors.APIError); ok {
			e.Endpoint = url
		}
		return sources.Page{}, apiErr
	}

	var p page
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		// Unpaged repositories answer with a bare array.
		if err := json.Unmarshal(trimmed, &p.Result); err != nil {
			return sources.Page{}, errors.WrapParse("json", url, err)
		}
	} else if err := json.Unmarshal(trimmed, &p); err != nil {
		return sources.Page{}, errors.WrapParse("json", url, err)
	}

	nodes, err := aasjson.DecodeTopLevel(p.Result, kindOf(category))
	if err != nil {
		return sources.Page{}, err
	}
	return sources.Page{Nodes: nodes, Cursor: p.PagingMetadata.Cursor}, nil
}

func kindOf(c sources.Category) tree.Kind {
	switch c {
	case sources.Shells:
		return tree.KindShell
	case sources.ConceptDescriptions:
		return tree.KindConceptDescription
	default:
		return tree.KindSubmodel
	}
}

func unreachable(err error) bool {
	if stderrors.Is(err, syscall.ECONNREFUSED) || stderrors.Is(err, syscall.EHOSTUNREACH) {
		return true
	}
	var opErr *net.OpError
	if stderrors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	return stderrors.As(err, &dnsErr)
}

func truncate(body []byte) string {
	const limit = 200
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
