package binder

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hasura/ndc-sdk-go/utils"
	"gotest.tools/v3/assert"

	"github.com/kestrun/kestrun-go/schema"
	"github.com/kestrun/kestrun-go/values"
)

func TestBindSimpleParameters(t *testing.T) {
	testCases := []struct {
		name     string
		url      string
		headers  map[string]string
		cookies  map[string]string
		route    RouteValues
		param    schema.Parameter
		expected any
	}{
		{
			name:     "path integer",
			url:      "/orders/42",
			route:    RouteValues{"id": "42"},
			param:    schema.Parameter{Name: "id", Kind: schema.KindInteger, In: schema.InPath},
			expected: int64(42),
		},
		{
			name:     "path integer unparseable",
			url:      "/orders/x",
			route:    RouteValues{"id": "x"},
			param:    schema.Parameter{Name: "id", Kind: schema.KindInteger, In: schema.InPath},
			expected: nil,
		},
		{
			name:     "path capture case-insensitive",
			url:      "/orders/7",
			route:    RouteValues{"ID": "7"},
			param:    schema.Parameter{Name: "id", Kind: schema.KindInteger, In: schema.InPath},
			expected: int64(7),
		},
		{
			name:     "query number",
			url:      "/search?score=3.5",
			param:    schema.Parameter{Name: "score", Kind: schema.KindNumber, In: schema.InQuery},
			expected: float64(3.5),
		},
		{
			name:     "query boolean case-insensitive",
			url:      "/search?active=TRUE",
			param:    schema.Parameter{Name: "active", Kind: schema.KindBoolean, In: schema.InQuery},
			expected: true,
		},
		{
			name:     "query boolean rejects non-literal",
			url:      "/search?active=yes",
			param:    schema.Parameter{Name: "active", Kind: schema.KindBoolean, In: schema.InQuery},
			expected: nil,
		},
		{
			name:     "query repeated values bind an array",
			url:      "/search?tag=a&tag=b",
			param:    schema.Parameter{Name: "tag", Kind: schema.KindArray, In: schema.InQuery},
			expected: []any{"a", "b"},
		},
		{
			name: "query non-exploded form style splits on comma",
			url:  "/search?tag=a,b,c",
			param: schema.Parameter{
				Name: "tag", Kind: schema.KindArray, In: schema.InQuery,
				Explode: utils.ToPtr(false),
			},
			expected: []any{"a", "b", "c"},
		},
		{
			name: "query pipe delimited",
			url:  "/search?tag=a|b",
			param: schema.Parameter{
				Name: "tag", Kind: schema.KindArray, In: schema.InQuery,
				Style: schema.EncodingStylePipeDelimited, Explode: utils.ToPtr(false),
			},
			expected: []any{"a", "b"},
		},
		{
			name: "query space delimited",
			url:  "/search?tag=a%20b",
			param: schema.Parameter{
				Name: "tag", Kind: schema.KindArray, In: schema.InQuery,
				Style: schema.EncodingStyleSpaceDelimited, Explode: utils.ToPtr(false),
			},
			expected: []any{"a", "b"},
		},
		{
			name:     "path array uses the simple delimiter",
			url:      "/orders/a,b",
			route:    RouteValues{"ids": "a,b"},
			param:    schema.Parameter{Name: "ids", Kind: schema.KindArray, In: schema.InPath},
			expected: []any{"a", "b"},
		},
		{
			name:     "missing query with default",
			url:      "/search",
			param:    schema.Parameter{Name: "limit", Kind: schema.KindInteger, In: schema.InQuery, Default: 10},
			expected: int64(10),
		},
		{
			name:     "missing query without default",
			url:      "/search",
			param:    schema.Parameter{Name: "limit", Kind: schema.KindInteger, In: schema.InQuery},
			expected: nil,
		},
		{
			name:     "header string",
			url:      "/",
			headers:  map[string]string{"X-Tenant": "acme"},
			param:    schema.Parameter{Name: "X-Tenant", Kind: schema.KindString, In: schema.InHeader},
			expected: "acme",
		},
		{
			name:     "cookie string",
			url:      "/",
			cookies:  map[string]string{"session": "abc123"},
			param:    schema.Parameter{Name: "session", In: schema.InCookie},
			expected: "abc123",
		},
	}

	b := New(nil, nil)
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tc.url, nil)
			for key, value := range tc.headers {
				r.Header.Set(key, value)
			}
			for key, value := range tc.cookies {
				r.AddCookie(&http.Cookie{Name: key, Value: value})
			}

			params, reqErr := b.Bind(Request{HTTP: r, RouteValues: tc.route}, []schema.Parameter{tc.param})
			assert.Assert(t, reqErr == nil)
			resolved, ok := params.Get(tc.param.Name)
			assert.Assert(t, ok)
			assert.DeepEqual(t, values.ToPlain(tc.expected), values.ToPlain(resolved.Value))
		})
	}
}

func TestBindBodyJSON(t *testing.T) {
	body := `{"title": "hello", "count": 3}`
	r := httptest.NewRequest("POST", "/items", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")

	b := New(nil, nil)
	params, reqErr := b.Bind(
		Request{HTTP: r, ContentType: schema.ContentTypeJSON},
		[]schema.Parameter{{Name: "body", Kind: schema.KindObject, In: schema.InBody}},
	)
	assert.Assert(t, reqErr == nil)
	assert.DeepEqual(t, map[string]any{
		"body": map[string]any{"title": "hello", "count": int64(3)},
	}, params.Bindings())
}

func TestBindBodyJSONAndYAMLAreEquivalent(t *testing.T) {
	param := schema.Parameter{Name: "payload", Kind: schema.KindObject, In: schema.InBody}
	b := New(nil, nil)

	jsonReq := httptest.NewRequest("POST", "/", strings.NewReader(`{"a": 1, "b": [true, "x"]}`))
	jsonReq.Header.Set("Content-Type", "application/json")
	jsonParams, reqErr := b.Bind(Request{HTTP: jsonReq, ContentType: schema.ContentTypeJSON}, []schema.Parameter{param})
	assert.Assert(t, reqErr == nil)

	yamlReq := httptest.NewRequest("POST", "/", strings.NewReader("a: 1\nb:\n  - true\n  - x\n"))
	yamlReq.Header.Set("Content-Type", "application/yaml")
	yamlParams, reqErr := b.Bind(Request{HTTP: yamlReq, ContentType: schema.ContentTypeYAML}, []schema.Parameter{param})
	assert.Assert(t, reqErr == nil)

	assert.DeepEqual(t, jsonParams.Bindings(), yamlParams.Bindings())
}

func TestBindBodyContentTypeDecision(t *testing.T) {
	b := New(nil, nil)

	t.Run("missing content type with a single declared type infers it", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/", strings.NewReader(`{"a": 1}`))
		param := schema.Parameter{
			Name: "body", Kind: schema.KindObject, In: schema.InBody,
			ContentTypes: []string{schema.ContentTypeJSON},
		}
		params, reqErr := b.Bind(Request{HTTP: r}, []schema.Parameter{param})
		assert.Assert(t, reqErr == nil)
		assert.DeepEqual(t, map[string]any{"a": int64(1)}, values.ToPlain(params.Body.Value))
	})

	t.Run("missing content type with several declared types fails", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/", strings.NewReader(`{"a": 1}`))
		param := schema.Parameter{
			Name: "body", Kind: schema.KindObject, In: schema.InBody,
			ContentTypes: []string{schema.ContentTypeJSON, schema.ContentTypeYAML},
		}
		_, reqErr := b.Bind(Request{HTTP: r}, []schema.Parameter{param})
		assert.Assert(t, reqErr != nil)
		assert.Equal(t, schema.ErrorKindMissingContentType, reqErr.Kind)
		assert.Equal(t, 415, reqErr.Status)
	})

	t.Run("undeclared content type fails", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/", strings.NewReader("<a>1</a>"))
		r.Header.Set("Content-Type", "application/xml")
		param := schema.Parameter{
			Name: "body", Kind: schema.KindObject, In: schema.InBody,
			ContentTypes: []string{schema.ContentTypeJSON},
		}
		_, reqErr := b.Bind(Request{HTTP: r, ContentType: schema.ContentTypeXML}, []schema.Parameter{param})
		assert.Assert(t, reqErr != nil)
		assert.Equal(t, schema.ErrorKindUnsupportedContentType, reqErr.Kind)
	})

	t.Run("no body binds nil without error", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		param := schema.Parameter{Name: "body", Kind: schema.KindObject, In: schema.InBody}
		params, reqErr := b.Bind(Request{HTTP: r}, []schema.Parameter{param})
		assert.Assert(t, reqErr == nil)
		assert.Assert(t, params.Body.Value == nil)
	})

	t.Run("object body that fails to decode is a binding failure", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/", strings.NewReader("{not json"))
		r.Header.Set("Content-Type", "application/json")
		param := schema.Parameter{Name: "body", Kind: schema.KindObject, In: schema.InBody}
		_, reqErr := b.Bind(Request{HTTP: r, ContentType: schema.ContentTypeJSON}, []schema.Parameter{param})
		assert.Assert(t, reqErr != nil)
		assert.Equal(t, schema.ErrorKindParameterBinding, reqErr.Kind)
		assert.Equal(t, 400, reqErr.Status)
	})
}

func TestBindMultipartBody(t *testing.T) {
	buffer := &bytes.Buffer{}
	writer := multipart.NewWriter(buffer)
	assert.NilError(t, writer.WriteField("title", "hello"))

	fileWriter, err := writer.CreateFormFile("upload", "notes.txt")
	assert.NilError(t, err)
	_, err = fileWriter.Write([]byte("file content"))
	assert.NilError(t, err)
	assert.NilError(t, writer.Close())

	r := httptest.NewRequest("POST", "/files", buffer)
	r.Header.Set("Content-Type", writer.FormDataContentType())

	b := New(nil, nil)
	params, reqErr := b.Bind(
		Request{HTTP: r, ContentType: schema.ContentTypeMultipartFormData},
		[]schema.Parameter{{Name: "form", Kind: schema.KindObject, In: schema.InBody}},
	)
	assert.Assert(t, reqErr == nil)
	defer params.Cleanup()

	plain, ok := values.ToPlain(params.Body.Value).(map[string]any)
	assert.Assert(t, ok)
	assert.Equal(t, "hello", plain["title"])

	upload, ok := plain["upload"].(map[string]any)
	assert.Assert(t, ok)
	assert.Equal(t, "notes.txt", upload["fileName"])
	assert.DeepEqual(t, []byte("file content"), upload["data"])
	assert.Equal(t, 2, len(params.RawParts()))
}

func TestParametersGetAndNames(t *testing.T) {
	r := httptest.NewRequest("POST", "/?q=1", strings.NewReader(`{"a": true}`))
	r.Header.Set("Content-Type", "application/json")

	b := New(nil, nil)
	params, reqErr := b.Bind(Request{HTTP: r, ContentType: schema.ContentTypeJSON}, []schema.Parameter{
		{Name: "q", Kind: schema.KindInteger, In: schema.InQuery},
		{Name: "payload", Kind: schema.KindObject, In: schema.InBody},
	})
	assert.Assert(t, reqErr == nil)

	assert.DeepEqual(t, []string{"q", "payload"}, params.Names())

	resolved, ok := params.Get("Q")
	assert.Assert(t, ok)
	assert.Equal(t, int64(1), resolved.Value)

	body, ok := params.Get("PAYLOAD")
	assert.Assert(t, ok)
	assert.DeepEqual(t, map[string]any{"a": true}, values.ToPlain(body.Value))
}
