package request

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/url"
	"sort"
	"strconv"
	"time"
)

// Params is an unordered mapping of REST API parameter names to values.
//
// Values may be primitives, time.Time (encoded as epoch milliseconds),
// slices, maps/structs (encoded as JSON), or binary content ([]byte,
// io.Reader, or File). Any binary value switches the whole parameter set
// to multipart/form-data encoding, which the platform requires for file
// attachments and rejects everywhere else.
type Params map[string]any

// File is a named binary parameter value, used for attachment uploads.
type File struct {
	Name   string
	Reader io.Reader
}

// BodyKind indicates how an encoded parameter set must be transmitted.
type BodyKind int

const (
	// BodyQuery is URL-encoded form data, usable as a query string or a
	// x-www-form-urlencoded POST body.
	BodyQuery BodyKind = iota

	// BodyMultipart is a multipart/form-data POST body.
	BodyMultipart
)

// EncodedBody is the result of encoding a parameter set. The kind is
// decided exactly once here; nothing downstream re-inspects value types.
type EncodedBody struct {
	Kind        BodyKind
	Values      url.Values
	Body        []byte
	ContentType string
}

// EncodeParams converts params into either URL-encoded values or a
// multipart form body. Multipart is selected when any value is binary, or
// when forceMultipart is set.
//
// Encoding never fails for text parameters: unencodable values are coerced
// to their string form. nil values, empty strings, and NaN floats are
// dropped. An error is only possible from reading a binary value.
func EncodeParams(params Params, forceMultipart bool) (*EncodedBody, error) {
	multipartNeeded := forceMultipart
	for _, v := range params {
		if isBinaryValue(v) {
			multipartNeeded = true
			break
		}
	}

	if multipartNeeded {
		return encodeMultipart(params)
	}

	vals := make(url.Values)
	for k, v := range params {
		for _, s := range encodeValue(v) {
			vals.Add(k, s)
		}
	}
	return &EncodedBody{Kind: BodyQuery, Values: vals}, nil
}

func isBinaryValue(v any) bool {
	switch v.(type) {
	case []byte, File, *File, bufferedFile, io.Reader:
		return true
	}
	return false
}

// bufferedFile is a File whose reader has been drained into memory, so
// the parameter set can be encoded more than once.
type bufferedFile struct {
	name string
	data []byte
}

// replayableParams reads any reader-backed binary values into memory and
// returns a parameter set that encodes identically every time. The auth
// retry re-encodes the whole request, and a drained reader would turn the
// retried attachment into zero bytes.
func replayableParams(params Params) (Params, error) {
	needed := false
	for _, v := range params {
		switch v.(type) {
		case File, *File, io.Reader:
			needed = true
		}
	}
	if !needed {
		return params, nil
	}

	out := make(Params, len(params))
	for k, v := range params {
		switch tv := v.(type) {
		case File:
			b, err := readBinaryParam(k, tv.Reader)
			if err != nil {
				return nil, err
			}
			out[k] = bufferedFile{name: tv.Name, data: b}
		case *File:
			b, err := readBinaryParam(k, tv.Reader)
			if err != nil {
				return nil, err
			}
			out[k] = bufferedFile{name: tv.Name, data: b}
		case io.Reader:
			b, err := readBinaryParam(k, tv)
			if err != nil {
				return nil, err
			}
			out[k] = b
		default:
			out[k] = v
		}
	}
	return out, nil
}

func readBinaryParam(key string, r io.Reader) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("binary parameter %q has no reader", key)
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading binary parameter %q: %w", key, err)
	}
	return b, nil
}

// encodeValue returns zero or more encoded strings for a single parameter
// value. Multiple strings mean the key is repeated (array-of-arrays, used
// for geometry path parameters). An empty slice means the value is dropped.
func encodeValue(v any) []string {
	switch tv := v.(type) {
	case nil:
		return nil
	case string:
		if tv == "" {
			return nil
		}
		return []string{tv}
	case bool:
		return []string{strconv.FormatBool(tv)}
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return []string{fmt.Sprint(tv)}
	case float32:
		return encodeFloat(float64(tv))
	case float64:
		return encodeFloat(tv)
	case time.Time:
		return []string{strconv.FormatInt(tv.UnixMilli(), 10)}
	case fmt.Stringer:
		return []string{tv.String()}
	}

	// arrays-of-arrays repeat the key once per inner array; everything
	// else structured is sent as a JSON string
	if inner, ok := nestedSlices(v); ok {
		out := make([]string, 0, len(inner))
		for _, elem := range inner {
			out = append(out, jsonString(elem))
		}
		return out
	}
	return []string{jsonString(v)}
}

func encodeFloat(f float64) []string {
	if math.IsNaN(f) {
		return nil
	}
	return []string{strconv.FormatFloat(f, 'f', -1, 64)}
}

// nestedSlices reports whether v is a slice whose first element is itself
// a slice, returning the inner elements if so.
func nestedSlices(v any) ([]any, bool) {
	outer, ok := asSlice(v)
	if !ok || len(outer) == 0 {
		return nil, false
	}
	if _, ok := asSlice(outer[0]); !ok {
		return nil, false
	}
	return outer, true
}

func asSlice(v any) ([]any, bool) {
	switch tv := v.(type) {
	case []any:
		return tv, true
	case [][]float64:
		out := make([]any, len(tv))
		for i := range tv {
			out[i] = tv[i]
		}
		return out, true
	case [][]any:
		out := make([]any, len(tv))
		for i := range tv {
			out[i] = tv[i]
		}
		return out, true
	}
	return nil, false
}

func jsonString(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		// coerce rather than fail; parameter encoding is best-effort
		return fmt.Sprint(v)
	}
	return string(b)
}

func encodeMultipart(params Params) (*EncodedBody, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	// deterministic part order helps with request signing and tests
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := params[k]
		switch tv := v.(type) {
		case []byte:
			part, err := w.CreateFormFile(k, k)
			if err != nil {
				return nil, err
			}
			if _, err := part.Write(tv); err != nil {
				return nil, err
			}
		case File:
			if err := writeFilePart(w, k, tv); err != nil {
				return nil, err
			}
		case *File:
			if err := writeFilePart(w, k, *tv); err != nil {
				return nil, err
			}
		case bufferedFile:
			name := tv.name
			if name == "" {
				name = k
			}
			part, err := w.CreateFormFile(k, name)
			if err != nil {
				return nil, err
			}
			if _, err := part.Write(tv.data); err != nil {
				return nil, err
			}
		case io.Reader:
			part, err := w.CreateFormFile(k, k)
			if err != nil {
				return nil, err
			}
			if _, err := io.Copy(part, tv); err != nil {
				return nil, err
			}
		default:
			for _, s := range encodeValue(v) {
				if err := w.WriteField(k, s); err != nil {
					return nil, err
				}
			}
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	return &EncodedBody{
		Kind:        BodyMultipart,
		Body:        buf.Bytes(),
		ContentType: w.FormDataContentType(),
	}, nil
}

func writeFilePart(w *multipart.Writer, key string, f File) error {
	name := f.Name
	if name == "" {
		name = key
	}
	part, err := w.CreateFormFile(key, name)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f.Reader)
	return err
}
