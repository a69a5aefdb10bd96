package http

import (
	"net/url"
	"strings"

	"github.com/TheEntropyCollective/scoro/internal/errs"
)

// Upload is one file part of a multipart/form-data body (spec.md §3's
// "{filename, bytes}" shape).
type Upload struct {
	Filename string
	Bytes    []byte
}

// Form is the result of parsing a request body per its Content-Type:
// application/x-www-form-urlencoded produces Params only; multipart/
// form-data produces both Params and Uploads.
type Form struct {
	Params  map[string]string
	Uploads map[string]Upload
}

// ParseForm parses r's body according to its Content-Type header,
// supporting application/x-www-form-urlencoded and multipart/form-data;
// any other content type is a protocol violation (spec.md §7).
func ParseForm(r *Request) (*Form, error) {
	ct := r.Header("Content-Type")
	switch {
	case strings.HasPrefix(ct, "application/x-www-form-urlencoded"):
		return parseURLEncodedForm(r)
	case strings.HasPrefix(ct, "multipart/form-data"):
		boundary, err := extractBoundary(ct)
		if err != nil {
			return nil, err
		}
		return parseMultipartForm(r, boundary)
	default:
		return nil, errs.Protocol("framing/http", "unsupported form Content-Type: "+ct)
	}
}

func parseURLEncodedForm(r *Request) (*Form, error) {
	body, err := r.BodyBytes()
	if err != nil {
		return nil, err
	}
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, errs.Protocol("framing/http", "malformed urlencoded body")
	}
	params := map[string]string{}
	for k, vs := range values {
		if len(vs) > 0 {
			params[k] = vs[0]
		}
	}
	return &Form{Params: params, Uploads: map[string]Upload{}}, nil
}

func extractBoundary(contentType string) (string, error) {
	parts := strings.Split(contentType, ";")
	for _, p := range parts[1:] {
		p = strings.TrimSpace(p)
		if strings.HasPrefix(p, "boundary=") {
			b := strings.TrimPrefix(p, "boundary=")
			b = strings.Trim(b, `"`)
			return b, nil
		}
	}
	return "", errs.Protocol("framing/http", "multipart/form-data missing boundary parameter")
}
