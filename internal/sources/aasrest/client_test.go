package aasrest

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/assetsync/pkg/errors"
	"github.com/agentstation/assetsync/pkg/sources"
	"github.com/agentstation/assetsync/pkg/tree"
)

func submodel(i int) string {
	return fmt.Sprintf(`{"modelType":"Submodel","id":"urn:sm:%d","idShort":"S%d","submodelElements":[{"modelType":"Property","idShort":"P","value":"%d"}]}`, i, i, i)
}

func newServer(t *testing.T, handler http.HandlerFunc) *Source {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	src := New(srv.URL+"/", WithPageSize(2), WithHeader("Authorization", "Bearer token"))
	t.Cleanup(func() { _ = src.Close() })
	return src
}

func TestFetchTopLevel_Paging(t *testing.T) {
	src := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/submodels", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("cursor") {
		case "":
			fmt.Fprintf(w, `{"result":[%s,%s],"paging_metadata":{"cursor":"c2"}}`, submodel(1), submodel(2))
		case "c2":
			fmt.Fprintf(w, `{"result":[%s],"paging_metadata":{}}`, submodel(3))
		default:
			t.Errorf("unexpected cursor %q", r.URL.Query().Get("cursor"))
		}
	})

	nodes, err := sources.FetchAll(context.Background(), src, sources.Submodels)
	require.NoError(t, err)
	require.Len(t, nodes, 3)
	assert.Equal(t, "urn:sm:3", nodes[2].Meta().ID)
	assert.Equal(t, tree.KindSubmodel, nodes[0].Meta().Kind)
}

func TestFetchTopLevel_BareArray(t *testing.T) {
	src := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `[{"id":"urn:shell:1","idShort":"S"}]`)
	})

	page, err := src.FetchTopLevel(context.Background(), sources.Shells, "")
	require.NoError(t, err)
	require.Len(t, page.Nodes, 1)
	assert.Equal(t, tree.KindShell, page.Nodes[0].Meta().Kind, "kind defaults from the category")
	assert.Empty(t, page.Cursor)
}

func TestFetchTopLevel_StatusMapping(t *testing.T) {
	tests := []struct {
		status int
		check  func(error) bool
	}{
		{http.StatusUnauthorized, errors.IsUnauthorized},
		{http.StatusForbidden, errors.IsUnauthorized},
		{http.StatusNotFound, errors.IsNotFound},
		{http.StatusMethodNotAllowed, errors.IsMethodNotAllowed},
		{http.StatusBadGateway, errors.IsUnavailable},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			src := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			})
			_, err := src.FetchTopLevel(context.Background(), sources.ConceptDescriptions, "")
			require.Error(t, err)
			assert.True(t, tt.check(err), "%v", err)
		})
	}
}

func TestFetchTopLevel_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	src := New(url)
	_, err := src.FetchTopLevel(context.Background(), sources.Submodels, "")
	assert.True(t, errors.IsUnavailable(err), "%v", err)
	assert.False(t, src.Available(context.Background()))
}

func TestAvailable(t *testing.T) {
	src := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	assert.True(t, src.Available(context.Background()), "an answering server is available")
}

func TestFetchTopLevel_MalformedBody(t *testing.T) {
	src := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"result": [`)
	})
	_, err := src.FetchTopLevel(context.Background(), sources.Submodels, "")
	var parseErr *errors.ParseError
	assert.ErrorAs(t, err, &parseErr)
}
