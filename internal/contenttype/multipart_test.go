package contenttype

import (
	"bytes"
	"mime/multipart"
	"net/textproto"
	"os"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/kestrun/kestrun-go/schema"
)

func buildMultipart(t *testing.T, build func(w *multipart.Writer)) (*multipart.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	build(writer)
	assert.NilError(t, writer.Close())
	return multipart.NewReader(&buf, writer.Boundary()), writer.Boundary()
}

func TestParseMultipart(t *testing.T) {
	reader, _ := buildMultipart(t, func(w *multipart.Writer) {
		field, err := w.CreateFormField("name")
		assert.NilError(t, err)
		_, err = field.Write([]byte("A"))
		assert.NilError(t, err)

		header := textproto.MIMEHeader{}
		header.Set("Content-Disposition", `form-data; name="meta"`)
		header.Set("Content-Type", "application/json; charset=utf-8")
		jsonPart, err := w.CreatePart(header)
		assert.NilError(t, err)
		_, err = jsonPart.Write([]byte(`{"k":1}`))
		assert.NilError(t, err)
	})

	parts, err := ParseMultipart(reader, schema.FormOptions{})
	assert.NilError(t, err)
	assert.Equal(t, 2, len(parts))

	assert.Equal(t, "name", parts[0].Name)
	data, err := parts[0].Bytes()
	assert.NilError(t, err)
	assert.Equal(t, "A", string(data))

	assert.Equal(t, "meta", parts[1].Name)
	assert.Equal(t, "application/json", parts[1].ContentType)
}

func TestParseMultipartSpoolsLargeParts(t *testing.T) {
	reader, _ := buildMultipart(t, func(w *multipart.Writer) {
		field, err := w.CreateFormField("blob")
		assert.NilError(t, err)
		_, err = field.Write(bytes.Repeat([]byte("x"), 64))
		assert.NilError(t, err)
	})

	parts, err := ParseMultipart(reader, schema.FormOptions{MaxMemory: 8})
	assert.NilError(t, err)
	assert.Equal(t, 1, len(parts))
	assert.Assert(t, parts[0].TempPath != "")

	data, err := parts[0].Bytes()
	assert.NilError(t, err)
	assert.Equal(t, 64, len(data))

	Cleanup(parts)
	_, err = os.Stat(parts[0].TempPath)
	assert.Assert(t, os.IsNotExist(err))
}

func TestParseMultipartNestedDepth(t *testing.T) {
	// build a multipart body nested five levels deep
	level := func(inner []byte, innerBoundary string) (*bytes.Buffer, string) {
		var buf bytes.Buffer
		writer := multipart.NewWriter(&buf)
		header := textproto.MIMEHeader{}
		header.Set("Content-Disposition", `form-data; name="nested"`)
		header.Set("Content-Type", "multipart/mixed; boundary="+innerBoundary)
		part, _ := writer.CreatePart(header)
		_, _ = part.Write(inner)
		_ = writer.Close()
		return &buf, writer.Boundary()
	}

	var leaf bytes.Buffer
	leafWriter := multipart.NewWriter(&leaf)
	field, err := leafWriter.CreateFormField("deep")
	assert.NilError(t, err)
	_, err = field.Write([]byte("value"))
	assert.NilError(t, err)
	assert.NilError(t, leafWriter.Close())

	body, boundary := &leaf, leafWriter.Boundary()
	for i := 0; i < 4; i++ {
		body, boundary = level(body.Bytes(), boundary)
	}

	parts, err := ParseMultipart(multipart.NewReader(body, boundary), schema.FormOptions{})
	assert.NilError(t, err)
	assert.Equal(t, 1, len(parts))

	// levels 1..4 parse, the fifth is truncated
	current := parts
	for depth := 1; depth < 4; depth++ {
		assert.Assert(t, len(current) == 1)
		assert.Assert(t, current[0].IsMultipartPart())
		assert.Assert(t, !current[0].Truncated)
		current = current[0].Nested
	}
	assert.Assert(t, len(current) == 1)
	assert.Assert(t, current[0].Truncated)
	assert.Assert(t, current[0].Nested == nil)
}
