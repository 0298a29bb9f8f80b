package binder

import (
	"fmt"
	"io"
	"strings"

	"github.com/kestrun/kestrun-go/internal/contenttype"
	"github.com/kestrun/kestrun-go/internal/mediatype"
	"github.com/kestrun/kestrun-go/schema"
	"github.com/kestrun/kestrun-go/values"
)

// bindBody decodes the request body for the body parameter. It returns the
// decoded value and, for multipart payloads, the raw parts whose spool files
// the caller must clean up.
func (b *Binder) bindBody(req Request, param schema.Parameter) (any, []contenttype.RawPart, *schema.RequestError) {
	hasBody := mediatype.RequestHasBody(req.HTTP)
	if !hasBody {
		if param.Default != nil {
			return values.Normalize(param.Default), nil, nil
		}
		return nil, nil, nil
	}

	effective, reqErr := b.effectiveContentType(req, param)
	if reqErr != nil {
		return nil, nil, reqErr
	}

	if mediatype.IsMultipart(effective) {
		return b.bindMultipartBody(req, param)
	}

	data, err := io.ReadAll(req.HTTP.Body)
	if err != nil {
		return nil, nil, schema.NewRequestError(schema.ErrorKindParameterBinding, "failed to read request body").Wrap(err)
	}
	if len(data) == 0 {
		return nil, nil, nil
	}

	hint := contenttype.Hint{Kind: param.Kind, Schema: param.Schema}
	decoded, ok := contenttype.Decode(effective, data, hint)
	if !ok {
		decoded = contenttype.DecodeBinary(data, hint)
	}

	if decoded == nil && param.Kind == schema.KindObject {
		return nil, nil, schema.NewRequestError(schema.ErrorKindParameterBinding,
			fmt.Sprintf("request body could not be decoded as %s", effective))
	}

	if param.Target != "" {
		mapped, err := b.types.MapToTarget(param.Target, decoded)
		if err != nil {
			return nil, nil, schema.NewRequestError(schema.ErrorKindParameterBinding,
				fmt.Sprintf("request body does not match %s", param.Target)).Wrap(err)
		}
		return mapped, nil, nil
	}

	return decoded, nil, nil
}

// effectiveContentType picks the media type body decoding dispatches on: the
// negotiated request content type when present, otherwise the single declared
// body content type.
func (b *Binder) effectiveContentType(req Request, param schema.Parameter) (string, *schema.RequestError) {
	if req.ContentType != "" {
		if len(param.ContentTypes) > 0 && !containsMediaType(param.ContentTypes, req.ContentType) {
			return "", schema.NewUnsupportedContentTypeError(req.ContentType, param.ContentTypes)
		}
		return req.ContentType, nil
	}

	rawHeader := req.HTTP.Header.Get("Content-Type")
	if rawHeader != "" {
		canonical, err := mediatype.Canonical(rawHeader)
		if err != nil {
			return "", schema.NewMalformedContentTypeError(rawHeader)
		}
		if len(param.ContentTypes) > 0 && !containsMediaType(param.ContentTypes, canonical) {
			return "", schema.NewUnsupportedContentTypeError(rawHeader, param.ContentTypes)
		}
		return canonical, nil
	}

	if len(param.ContentTypes) == 1 {
		canonical, err := mediatype.Canonical(param.ContentTypes[0])
		if err == nil {
			return canonical, nil
		}
	}
	allowed := param.ContentTypes
	if len(allowed) == 0 {
		allowed = mediatype.Supported()
	}
	return "", schema.NewMissingContentTypeError(allowed)
}

func containsMediaType(declared []string, canonical string) bool {
	for _, candidate := range declared {
		canonicalCandidate, err := mediatype.Canonical(candidate)
		if err != nil {
			continue
		}
		if canonicalCandidate == canonical {
			return true
		}
	}
	return false
}

// bindMultipartBody parses the multipart stream and assembles the parts into
// either the registered target type or the neutral parts tree.
func (b *Binder) bindMultipartBody(req Request, param schema.Parameter) (any, []contenttype.RawPart, *schema.RequestError) {
	reader, err := req.HTTP.MultipartReader()
	if err != nil {
		return nil, nil, formParsingError(param, "invalid multipart request").Wrap(err)
	}

	options := schema.FormOptions{}
	if param.Form != nil {
		options = *param.Form
	}
	parts, err := contenttype.ParseMultipart(reader, options)
	if err != nil {
		contenttype.Cleanup(parts)
		return nil, nil, formParsingError(param, "failed to parse multipart body").Wrap(err)
	}

	if param.Target != "" {
		mapped, err := b.types.BindParts(param.Target, parts)
		if err != nil {
			contenttype.Cleanup(parts)
			return nil, nil, schema.NewRequestError(schema.ErrorKindParameterBinding,
				fmt.Sprintf("multipart body does not match %s", param.Target)).Wrap(err)
		}
		return mapped, parts, nil
	}

	return assembleParts(parts), parts, nil
}

func formParsingError(param schema.Parameter, message string) *schema.RequestError {
	reqErr := schema.NewRequestError(schema.ErrorKindFormParsing, message)
	if param.Form != nil && param.Form.FailStatus > 0 {
		return reqErr.WithStatus(param.Form.FailStatus)
	}
	return reqErr
}

// assembleParts folds the raw parts into the neutral tree: text parts become
// strings or decoded documents, file parts become descriptor maps, repeated
// names become lists.
func assembleParts(parts []contenttype.RawPart) *values.Map {
	result := values.NewMap()
	for _, part := range parts {
		name := part.Name
		if name == "" {
			name = "_unnamed"
		}
		value := partValue(part)
		if existing, ok := result.Get(name); ok {
			if list, isList := existing.([]any); isList {
				result.Set(name, append(list, value))
			} else {
				result.Set(name, []any{existing, value})
			}
			continue
		}
		result.Set(name, value)
	}
	return result
}

func partValue(part contenttype.RawPart) any {
	if part.Truncated {
		return nil
	}
	if len(part.Nested) > 0 {
		return assembleParts(part.Nested)
	}
	if part.FileName != "" {
		descriptor := values.NewMap()
		descriptor.Set("fileName", part.FileName)
		descriptor.Set("contentType", part.ContentType)
		if part.TempPath != "" {
			descriptor.Set("tempPath", part.TempPath)
		} else {
			descriptor.Set("data", part.Data)
			descriptor.Set("size", int64(len(part.Data)))
		}
		return descriptor
	}

	data, err := part.Bytes()
	if err != nil {
		return nil
	}
	if part.ContentType != "" && !strings.HasPrefix(part.ContentType, "text/") {
		if decoded, ok := contenttype.Decode(part.ContentType, data, contenttype.Hint{}); ok {
			return decoded
		}
	}
	return string(data)
}
