// Package aasregistry reads AAS trees from a registry speaking the AAS part 2
// HTTP API. Shell and submodel descriptors become top-level shells and
// submodels whose access URL is the endpoint the descriptor advertises.
package aasregistry

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"resty.dev/v3"

	"github.com/agentstation/assetsync/pkg/constants"
	"github.com/agentstation/assetsync/pkg/errors"
	"github.com/agentstation/assetsync/pkg/logging"
	"github.com/agentstation/assetsync/pkg/sources"
	"github.com/agentstation/assetsync/pkg/tree"
)

// Scheme prefixes the URI of a registry source so a registry and a
// repository on the same host stay distinct sources.
const Scheme = "registry+"

// Descriptor endpoints.
const (
	shellDescriptors    = "shell-descriptors"
	submodelDescriptors = "submodel-descriptors"
)

// Interfaces accepted per descriptor type, for AAS 3.0.
var (
	shellInterfaces    = []string{"AAS-3.0", "AAS-REPOSITORY-3.0"}
	submodelInterfaces = []string{"SUBMODEL-3.0", "SUBMODEL-REPOSITORY-3.0"}
)

// Source is a sources.Source backed by an AAS registry.
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

// WithHeader adds a header to every request.
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

// New creates a Source for the registry at endpoint. A leading Scheme is
// stripped.
func New(endpoint string, opts ...Option) *Source {
	s := &Source{
		endpoint: strings.TrimRight(strings.TrimPrefix(endpoint, Scheme), "/"),
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

// IsRegistryURI reports whether uri names a registry source.
func IsRegistryURI(uri string) bool {
	return strings.HasPrefix(uri, Scheme+"http://") || strings.HasPrefix(uri, Scheme+"https://")
}

// URI implements sources.Source.
func (s *Source) URI() string {
	return Scheme + s.endpoint
}

// Close releases idle connections.
func (s *Source) Close() error {
	return s.resty.Close()
}

// Available implements sources.Source. Any HTTP answer counts.
func (s *Source) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, constants.AvailabilityTimeout)
	defer cancel()

	resp, err := s.resty.R().
		SetContext(ctx).
		SetQueryParam("limit", "1").
		Get(s.endpoint + "/" + shellDescriptors)
	if err != nil {
		return false
	}

	//nolint:errcheck
	defer resp.Body.Close()

	return resp.StatusCode() > 0
}

// FetchTopLevel implements sources.Source.
//
// Shells page through the shell descriptors. Submodels are answered in one
// page: the standalone submodel descriptors plus those nested in shell
// descriptors, deduplicated by id. A registry holds no concept descriptions,
// so that category answers ErrMethodNotAllowed.
func (s *Source) FetchTopLevel(ctx context.Context, category sources.Category, cursor string) (sources.Page, error) {
	switch category {
	case sources.Shells:
		descs, next, err := s.shellPage(ctx, cursor)
		if err != nil {
			return sources.Page{}, err
		}
		nodes := make([]tree.Node, 0, len(descs))
		for _, d := range descs {
			if n, ok := s.shellNode(ctx, d); ok {
				nodes = append(nodes, n)
			}
		}
		return sources.Page{Nodes: nodes, Cursor: next}, nil

	case sources.Submodels:
		descs, err := s.allSubmodelDescriptors(ctx)
		if err != nil {
			return sources.Page{}, err
		}
		nodes := make([]tree.Node, 0, len(descs))
		for _, d := range descs {
			if n, ok := s.submodelNode(ctx, d); ok {
				nodes = append(nodes, n)
			}
		}
		return sources.Page{Nodes: nodes}, nil

	default:
		return sources.Page{}, fmt.Errorf("%s at %s: %w", category, s.URI(), errors.ErrMethodNotAllowed)
	}
}

func (s *Source) shellPage(ctx context.Context, cursor string) ([]shellDescriptor, string, error) {
	var descs []shellDescriptor
	next, err := s.get(ctx, shellDescriptors, cursor, &descs)
	return descs, next, err
}

func (s *Source) allSubmodelDescriptors(ctx context.Context) ([]submodelDescriptor, error) {
	var (
		out    []submodelDescriptor
		seen   = make(map[string]bool)
		cursor string
	)
	add := func(ds []submodelDescriptor) {
		for _, d := range ds {
			if d.ID == "" || seen[d.ID] {
				continue
			}
			seen[d.ID] = true
			out = append(out, d)
		}
	}

	err := s.follow(func() (string, error) {
		var page []submodelDescriptor
		next, err := s.get(ctx, submodelDescriptors, cursor, &page)
		add(page)
		cursor = next
		return next, err
	})
	if err != nil {
		return nil, err
	}

	cursor = ""
	err = s.follow(func() (string, error) {
		shells, next, err := s.shellPage(ctx, cursor)
		for _, sh := range shells {
			add(sh.SubmodelDescriptors)
		}
		cursor = next
		return next, err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// follow calls fetch until it returns an empty cursor.
func (s *Source) follow(fetch func() (string, error)) error {
	seen := make(map[string]bool)
	for range constants.MaxPages {
		next, err := fetch()
		if err != nil {
			return err
		}
		if next == "" {
			return nil
		}
		if seen[next] {
			return errors.NewResourceError("fetch", "registry", s.endpoint,
				fmt.Errorf("paging repeats cursor %q", next))
		}
		seen[next] = true
	}
	return errors.NewResourceError("fetch", "registry", s.endpoint,
		fmt.Errorf("exceeded %d pages", constants.MaxPages))
}

// page is the paged response envelope.
type page struct {
	Result         json.RawMessage `json:"result"`
	PagingMetadata struct {
		Cursor string `json:"cursor"`
	} `json:"paging_metadata"`
}

// get fetches one page of path into out and returns the next cursor.
func (s *Source) get(ctx context.Context, path, cursor string, out any) (string, error) {
	url := s.endpoint + "/" + path

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
			return "", ctx.Err()
		}
		var opErr *net.OpError
		if stderrors.As(err, &opErr) {
			return "", fmt.Errorf("%s: %w: %w", url, errors.ErrUnavailable, err)
		}
		return "", errors.WrapResource("fetch", path, s.endpoint, err)
	}

	//nolint:errcheck
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.WrapIO("read", url, err)
	}
	if resp.StatusCode() != http.StatusOK {
		apiErr := errors.WrapAPI(s.URI(), resp.StatusCode(), fmt.Errorf("GET %s: %s", url, truncate(body)))
		if e, ok := apiErr.(*errors.APIError); ok {
			e.Endpoint = url
		}
		return "", apiErr
	}

	var p page
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		p.Result = trimmed
	} else if err := json.Unmarshal(trimmed, &p); err != nil {
		return "", errors.WrapParse("json", url, err)
	}
	if len(p.Result) == 0 || string(p.Result) == "null" {
		return p.PagingMetadata.Cursor, nil
	}
	if err := json.Unmarshal(p.Result, out); err != nil {
		return "", errors.WrapParse("json", url, err)
	}
	return p.PagingMetadata.Cursor, nil
}

func (s *Source) shellNode(ctx context.Context, d shellDescriptor) (tree.Node, bool) {
	href, ok := d.endpointFor(shellInterfaces)
	if !ok {
		logging.FromContext(ctx).Warn().
			Str("source", s.URI()).
			Str("id", d.ID).
			Msg("Shell descriptor has no usable endpoint, skipped")
		return nil, false
	}
	extra := map[string]any{"accessUrl": href}
	if d.GlobalAssetID != "" {
		extra["globalAssetId"] = d.GlobalAssetID
	}
	if d.AssetKind != "" {
		extra["assetKind"] = d.AssetKind
	}
	if d.AssetType != "" {
		extra["assetType"] = d.AssetType
	}
	return &tree.Leaf{Element: tree.Element{
		Kind:           tree.KindShell,
		ID:             d.ID,
		IDShort:        d.IDShort,
		Administration: d.Administration,
		Extra:          extra,
	}}, true
}

func (s *Source) submodelNode(ctx context.Context, d submodelDescriptor) (tree.Node, bool) {
	href, ok := d.endpointFor(submodelInterfaces)
	if !ok {
		logging.FromContext(ctx).Warn().
			Str("source", s.URI()).
			Str("id", d.ID).
			Msg("Submodel descriptor has no usable endpoint, skipped")
		return nil, false
	}
	return &tree.Collection{Element: tree.Element{
		Kind:           tree.KindSubmodel,
		ID:             d.ID,
		IDShort:        d.IDShort,
		SemanticID:     d.SemanticID.first(),
		Administration: d.Administration,
		Extra:          map[string]any{"accessUrl": href},
	}}, true
}

type reference struct {
	Keys []struct {
		Value string `json:"value"`
	} `json:"keys"`
}

func (r *reference) first() string {
	if r == nil || len(r.Keys) == 0 {
		return ""
	}
	return r.Keys[0].Value
}

type securityAttribute struct {
	Type string `json:"type"`
}

type endpoint struct {
	Interface           string `json:"interface"`
	ProtocolInformation struct {
		Href               string              `json:"href"`
		EndpointProtocol   string              `json:"endpointProtocol"`
		SecurityAttributes []securityAttribute `json:"securityAttributes"`
	} `json:"protocolInformation"`
}

// open reports whether the endpoint can be called without credentials.
func (e endpoint) open() bool {
	attrs := e.ProtocolInformation.SecurityAttributes
	return len(attrs) == 0 || slices.ContainsFunc(attrs, func(a securityAttribute) bool {
		return strings.EqualFold(a.Type, "NONE")
	})
}

type descriptor struct {
	ID             string               `json:"id"`
	IDShort        string               `json:"idShort"`
	Administration *tree.Administration `json:"administration"`
	Endpoints      []endpoint           `json:"endpoints"`
}

// endpointFor returns the href of the first plain http(s) endpoint
// implementing one of interfaces.
func (d descriptor) endpointFor(interfaces []string) (string, bool) {
	for _, ep := range d.Endpoints {
		if !slices.Contains(interfaces, ep.Interface) || !ep.open() {
			continue
		}
		switch strings.ToLower(ep.ProtocolInformation.EndpointProtocol) {
		case "http", "https":
		default:
			continue
		}
		if ep.ProtocolInformation.Href != "" {
			return ep.ProtocolInformation.Href, true
		}
	}
	return "", false
}

type submodelDescriptor struct {
	descriptor
	SemanticID *reference `json:"semanticId"`
}

type shellDescriptor struct {
	descriptor
	GlobalAssetID       string               `json:"globalAssetId"`
	AssetKind           string               `json:"assetKind"`
	AssetType           string               `json:"assetType"`
	SubmodelDescriptors []submodelDescriptor `json:"submodelDescriptors"`
}

func truncate(body []byte) string {
	const limit = 200
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
