package contenttype

import (
	"bytes"
	"io"
	"mime"
	"mime/multipart"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/kestrun/kestrun-go/schema"
)

const (
	// DefaultMaxPartMemory bounds the bytes a part may hold in memory
	// before spooling to a temp file.
	DefaultMaxPartMemory int64 = 32 << 20
	// DefaultMultipartDepth bounds nested multipart recursion.
	DefaultMultipartDepth = 4
)

// RawPart is one decoded part of a multipart payload.
type RawPart struct {
	Name        string
	FileName    string
	ContentType string
	// Data holds the content when it fit in memory.
	Data []byte
	// TempPath points at the spool file when the part exceeded the memory
	// bound. Spool files live until Cleanup runs at the end of the request.
	TempPath string
	// Nested holds the parts of a nested multipart payload.
	Nested []RawPart
	// Truncated marks a nested payload dropped at the depth bound.
	Truncated bool
}

// Bytes returns the part content, reading the spool file when needed.
func (p RawPart) Bytes() ([]byte, error) {
	if p.TempPath != "" {
		return os.ReadFile(p.TempPath)
	}
	return p.Data, nil
}

// IsMultipartPart reports whether the part itself carries a multipart
// payload.
func (p RawPart) IsMultipartPart() bool {
	return strings.HasPrefix(p.ContentType, "multipart/")
}

// ParseMultipart reads every part of a multipart stream into raw-part
// records, recursing into nested multipart parts up to the depth bound.
// Parts beyond the bound are truncated, not rejected.
func ParseMultipart(reader *multipart.Reader, options schema.FormOptions) ([]RawPart, error) {
	return parseMultipartParts(reader, options, 1)
}

func parseMultipartParts(reader *multipart.Reader, options schema.FormOptions, depth int) ([]RawPart, error) {
	parts := []RawPart{}
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			return parts, nil
		}
		if err != nil {
			return parts, err
		}
		raw, err := readMultipartPart(part, options, depth)
		_ = part.Close()
		if err != nil {
			return parts, err
		}
		parts = append(parts, raw)
	}
}

func readMultipartPart(part *multipart.Part, options schema.FormOptions, depth int) (RawPart, error) {
	maxMemory := options.MaxMemory
	if maxMemory <= 0 {
		maxMemory = DefaultMaxPartMemory
	}
	maxDepth := options.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMultipartDepth
	}

	raw := RawPart{
		Name:     part.FormName(),
		FileName: part.FileName(),
	}
	if contentType := part.Header.Get("Content-Type"); contentType != "" {
		parsed, params, err := mime.ParseMediaType(contentType)
		if err != nil {
			raw.ContentType = strings.ToLower(strings.TrimSpace(contentType))
		} else {
			raw.ContentType = parsed
			if strings.HasPrefix(parsed, "multipart/") {
				if depth >= maxDepth {
					raw.Truncated = true
					_, _ = io.Copy(io.Discard, part)
					return raw, nil
				}
				if boundary := params["boundary"]; boundary != "" {
					nested, err := parseMultipartParts(multipart.NewReader(part, boundary), options, depth+1)
					if err != nil {
						return raw, err
					}
					raw.Nested = nested
					return raw, nil
				}
			}
		}
	}

	buffer := &bytes.Buffer{}
	n, err := io.CopyN(buffer, part, maxMemory+1)
	if err != nil && err != io.EOF {
		return raw, err
	}
	if n <= maxMemory {
		raw.Data = buffer.Bytes()
		return raw, nil
	}

	spool, err := os.CreateTemp("", "kestrun-part-"+uuid.NewString())
	if err != nil {
		return raw, err
	}
	if _, err := spool.Write(buffer.Bytes()); err != nil {
		_ = spool.Close()
		_ = os.Remove(spool.Name())
		return raw, err
	}
	if _, err := io.Copy(spool, part); err != nil {
		_ = spool.Close()
		_ = os.Remove(spool.Name())
		return raw, err
	}
	raw.TempPath = spool.Name()
	return raw, spool.Close()
}

// Cleanup removes the spool files of the parts and their nested payloads.
func Cleanup(parts []RawPart) {
	for _, part := range parts {
		if part.TempPath != "" {
			_ = os.Remove(part.TempPath)
		}
		Cleanup(part.Nested)
	}
}
