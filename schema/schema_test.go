package schema

import (
	"testing"

	"gotest.tools/v3/assert"
)

func validRoute() Route {
	return Route{
		Method:   "GET",
		Pattern:  "/items/:id",
		Language: ScriptLanguageLua,
		Script:   "return id",
		Parameters: []Parameter{
			{Name: "id", Kind: KindInteger, In: InPath},
		},
	}
}

func TestRouteValidate(t *testing.T) {
	testCases := []struct {
		name     string
		mutate   func(r *Route)
		errorMsg string
	}{
		{
			name:   "valid route",
			mutate: func(r *Route) {},
		},
		{
			name:     "missing method",
			mutate:   func(r *Route) { r.Method = " " },
			errorMsg: "method is required",
		},
		{
			name:     "missing pattern",
			mutate:   func(r *Route) { r.Pattern = "" },
			errorMsg: "pattern is required",
		},
		{
			name:     "unknown language",
			mutate:   func(r *Route) { r.Language = "cobol" },
			errorMsg: "language: invalid ScriptLanguage. Expected [lua javascript tengo], got <cobol>",
		},
		{
			name:     "missing script",
			mutate:   func(r *Route) { r.Script = "" },
			errorMsg: "script is required",
		},
		{
			name: "two body parameters",
			mutate: func(r *Route) {
				r.Parameters = append(r.Parameters,
					Parameter{Name: "a", Kind: KindObject, In: InBody},
					Parameter{Name: "b", Kind: KindObject, In: InBody},
				)
			},
			errorMsg: "a route can declare at most one body parameter",
		},
		{
			name: "body descriptor plus body parameter",
			mutate: func(r *Route) {
				r.RequestBody = &RequestBody{Name: "payload"}
				r.Parameters = append(r.Parameters, Parameter{Name: "payload", Kind: KindObject, In: InBody})
			},
			errorMsg: "a route can declare at most one body parameter",
		},
		{
			name: "content types off the body",
			mutate: func(r *Route) {
				r.Parameters[0].ContentTypes = []string{ContentTypeJSON}
			},
			errorMsg: "parameters[0]: contentTypes is only valid on the body parameter",
		},
		{
			name: "incompatible default",
			mutate: func(r *Route) {
				r.Parameters[0].Default = "not-a-number"
			},
			errorMsg: "parameters[0]: default: value not-a-number is not compatible with kind integer",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			route := validRoute()
			tc.mutate(&route)
			err := route.Validate()
			if tc.errorMsg == "" {
				assert.NilError(t, err)
			} else {
				assert.ErrorContains(t, err, tc.errorMsg)
			}
		})
	}
}

func TestRouteBodyParameter(t *testing.T) {
	route := validRoute()
	assert.Assert(t, route.BodyParameter() == nil)

	route.RequestBody = &RequestBody{ContentTypes: []string{ContentTypeJSON}}
	body := route.BodyParameter()
	assert.Assert(t, body != nil)
	assert.Equal(t, "body", body.Name)
	assert.Equal(t, KindObject, body.Kind)
	assert.Equal(t, InBody, body.In)
	assert.DeepEqual(t, []string{ContentTypeJSON}, body.ContentTypes)

	route.RequestBody = nil
	route.Parameters = append(route.Parameters, Parameter{Name: "doc", Kind: KindObject, In: InBody})
	body = route.BodyParameter()
	assert.Assert(t, body != nil)
	assert.Equal(t, "doc", body.Name)
}

func TestParameterIsExploded(t *testing.T) {
	explodeOff := false
	testCases := []struct {
		name     string
		param    Parameter
		expected bool
	}{
		{name: "default form style", param: Parameter{Name: "tag"}, expected: true},
		{name: "simple style", param: Parameter{Name: "tag", Style: EncodingStyleSimple}, expected: false},
		{name: "explicit override", param: Parameter{Name: "tag", Explode: &explodeOff}, expected: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.param.IsExploded())
		})
	}
}
