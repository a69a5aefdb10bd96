package http

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func defaultTestConfig(t *testing.T) Config {
	return Config{
		HeaderSizeCap:  1 << 20,
		BodySizeCap:    64 << 20,
		DiskOffloadMin: 8 << 20,
		OffloadDir:     t.TempDir(),
	}
}

// S1: basic GET with query string, headers and body.
func TestParseRequestBasic(t *testing.T) {
	raw := "GET /home?name=Carter&age=30 HTTP/1.1\r\n" +
		"Content-Length: 11\r\n" +
		"Connection: close\r\n" +
		"Foo: bar\r\n" +
		"\r\n" +
		"Hello World"

	req, err := ParseRequest(strings.NewReader(raw), defaultTestConfig(t))
	require.NoError(t, err)
	defer req.Cleanup()

	require.Equal(t, "GET", req.Method)
	require.Equal(t, "/home", req.URL)
	require.Equal(t, "Carter", req.Query.Get("name"))
	require.Equal(t, "30", req.Query.Get("age"))
	require.Equal(t, "close", req.Header("Connection"))
	require.Equal(t, "bar", req.Header("Foo"))
	require.True(t, req.complete)

	body, err := req.BodyBytes()
	require.NoError(t, err)
	require.Equal(t, "Hello World", string(body))
	require.False(t, req.Offloaded())
}

// S2: urlencoded form body.
func TestParseURLEncodedForm(t *testing.T) {
	bodyStr := "name=Carter&age=89&country=Botswana"
	raw := "POST /submit HTTP/1.1\r\n" +
		"Content-Length: " + strconv.Itoa(len(bodyStr)) + "\r\n" +
		"Content-Type: application/x-www-form-urlencoded\r\n" +
		"\r\n" + bodyStr

	req, err := ParseRequest(strings.NewReader(raw), defaultTestConfig(t))
	require.NoError(t, err)
	defer req.Cleanup()

	form, err := ParseForm(req)
	require.NoError(t, err)
	require.Equal(t, "Carter", form.Params["name"])
	require.Equal(t, "89", form.Params["age"])
	require.Equal(t, "Botswana", form.Params["country"])
	require.Empty(t, form.Uploads)
}

// S3: multipart upload with two fields and two file uploads.
func TestParseMultipartForm(t *testing.T) {
	boundary := "------------------------d74496d66958873e"
	var b strings.Builder
	b.WriteString("--" + boundary + "\r\n")
	b.WriteString("Content-Disposition: form-data; name=\"person\"\r\n\r\n")
	b.WriteString("anonymous\r\n")
	b.WriteString("--" + boundary + "\r\n")
	b.WriteString("Content-Disposition: form-data; name=\"secret\"; filename=\"file.txt\"\r\n")
	b.WriteString("Content-Type: text/plain\r\n\r\n")
	b.WriteString("contents of the file\r\n")
	b.WriteString("--" + boundary + "\r\n")
	b.WriteString("Content-Disposition: form-data; name=\"source\"\r\n\r\n")
	b.WriteString("AlienWorld\r\n")
	b.WriteString("--" + boundary + "\r\n")
	b.WriteString("Content-Disposition: form-data; name=\"coord\"; filename=\"coord.txt\"\r\n")
	b.WriteString("Content-Type: text/plain\r\n\r\n")
	b.WriteString("40.832090987240534, -74.08417060141278\r\n")
	b.WriteString("--" + boundary + "--\r\n")

	bodyStr := b.String()
	raw := "POST /upload HTTP/1.1\r\n" +
		"Content-Length: " + strconv.Itoa(len(bodyStr)) + "\r\n" +
		"Content-Type: multipart/form-data; boundary=" + boundary + "\r\n" +
		"\r\n" + bodyStr

	req, err := ParseRequest(strings.NewReader(raw), defaultTestConfig(t))
	require.NoError(t, err)
	defer req.Cleanup()

	form, err := ParseForm(req)
	require.NoError(t, err)
	require.Len(t, form.Params, 2)
	require.Len(t, form.Uploads, 2)
	require.Equal(t, "anonymous", form.Params["person"])
	require.Equal(t, "AlienWorld", form.Params["source"])
	require.Equal(t, "contents of the file", string(form.Uploads["secret"].Bytes))
	require.Equal(t, "file.txt", form.Uploads["secret"].Filename)
	require.Equal(t, "40.832090987240534, -74.08417060141278", string(form.Uploads["coord"].Bytes))
}

func TestParseRequestHeaderSizeCap(t *testing.T) {
	cfg := defaultTestConfig(t)
	cfg.HeaderSizeCap = 10

	raw := "GET / HTTP/1.1\r\nX-Long-Header: this-is-too-long-for-the-cap\r\n\r\n"
	_, err := ParseRequest(strings.NewReader(raw), cfg)
	require.Error(t, err)
}

func TestCookies(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nCookie: session=abc123; theme=dark\r\n\r\n"
	req, err := ParseRequest(strings.NewReader(raw), defaultTestConfig(t))
	require.NoError(t, err)
	cookies := req.Cookies()
	require.Equal(t, "abc123", cookies["session"])
	require.Equal(t, "dark", cookies["theme"])
}

func TestOffloadToDisk(t *testing.T) {
	cfg := defaultTestConfig(t)
	cfg.DiskOffloadMin = 5 // force offload for anything >5 bytes

	bodyStr := strings.Repeat("x", 100)
	raw := "POST / HTTP/1.1\r\nContent-Length: " + strconv.Itoa(len(bodyStr)) + "\r\n\r\n" + bodyStr
	req, err := ParseRequest(strings.NewReader(raw), cfg)
	require.NoError(t, err)
	defer req.Cleanup()

	require.True(t, req.Offloaded())
	body, err := req.BodyBytes()
	require.NoError(t, err)
	require.Equal(t, bodyStr, string(body))
}

