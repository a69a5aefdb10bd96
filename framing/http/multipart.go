package http

import (
	"bytes"
	"strings"

	"github.com/TheEntropyCollective/scoro/internal/errs"
)

// multipartState names the explicit states of spec.md §4.I's multipart
// reader, carried faithfully from the original request.cpp transition
// table (see SPEC_FULL.md §4): begin, is-boundary, boundary, header,
// content, data, save-data, save-file, end, error.
type multipartState int

const (
	stateBegin multipartState = iota
	stateIsBoundary
	stateBoundary
	stateHeader
	stateContent
	stateData
	stateSaveData
	stateSaveFile
	stateEnd
	stateError
)

// parseMultipartForm walks r's body as a sequence of boundary-delimited
// parts, classifying each part as a form field (save-data) or a file
// upload (save-file) based on whether its Content-Disposition carries a
// filename parameter.
func parseMultipartForm(r *Request, boundary string) (*Form, error) {
	body, err := r.BodyBytes()
	if err != nil {
		return nil, err
	}

	form := &Form{Params: map[string]string{}, Uploads: map[string]Upload{}}
	delim := []byte("--" + boundary)
	final := []byte("--" + boundary + "--")

	state := stateBegin
	pos := 0
	for state != stateEnd && state != stateError {
		switch state {
		case stateBegin:
			idx := bytes.Index(body[pos:], delim)
			if idx < 0 {
				state = stateError
				break
			}
			pos += idx
			state = stateIsBoundary

		case stateIsBoundary:
			if bytes.HasPrefix(body[pos:], final) {
				state = stateEnd
				break
			}
			pos += len(delim)
			pos = skipCRLF(body, pos)
			state = stateBoundary

		case stateBoundary:
			state = stateHeader

		case stateHeader:
			headerEnd := bytes.Index(body[pos:], []byte("\r\n\r\n"))
			if headerEnd < 0 {
				state = stateError
				break
			}
			headerBlock := string(body[pos : pos+headerEnd])
			pos += headerEnd + 4
			name, filename := parseContentDisposition(headerBlock)
			if name == "" {
				state = stateError
				break
			}
			nextIdx := bytes.Index(body[pos:], delim)
			if nextIdx < 0 {
				state = stateError
				break
			}
			content := trimTrailingCRLF(body[pos : pos+nextIdx])
			pos += nextIdx
			state = stateContent

			if filename != "" {
				form.Uploads[name] = Upload{Filename: filename, Bytes: content}
				state = stateSaveFile
			} else {
				form.Params[name] = string(content)
				state = stateSaveData
			}

		case stateContent, stateData:
			// content already consumed in stateHeader; states retained
			// for fidelity with the original transition table.
			state = stateIsBoundary

		case stateSaveData, stateSaveFile:
			state = stateIsBoundary
		}
	}

	if state == stateError {
		return nil, errs.Protocol("framing/http", "malformed multipart/form-data body")
	}
	return form, nil
}

// parseContentDisposition extracts name and filename (if present) from a
// part's header block, which may also contain a Content-Type line we do
// not need to interpret further.
func parseContentDisposition(headerBlock string) (name, filename string) {
	for _, line := range strings.Split(headerBlock, "\r\n") {
		if !strings.HasPrefix(strings.ToLower(line), "content-disposition:") {
			continue
		}
		for _, field := range strings.Split(line, ";") {
			field = strings.TrimSpace(field)
			switch {
			case strings.HasPrefix(field, `name="`):
				name = strings.TrimSuffix(strings.TrimPrefix(field, `name="`), `"`)
			case strings.HasPrefix(field, `filename="`):
				filename = strings.TrimSuffix(strings.TrimPrefix(field, `filename="`), `"`)
			}
		}
	}
	return name, filename
}

func skipCRLF(body []byte, pos int) int {
	if pos+1 < len(body) && body[pos] == '\r' && body[pos+1] == '\n' {
		return pos + 2
	}
	return pos
}

func trimTrailingCRLF(b []byte) []byte {
	b = bytes.TrimSuffix(b, []byte("\r\n"))
	return b
}
