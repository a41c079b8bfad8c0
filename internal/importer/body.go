package importer

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/brucehart/harlite/internal/har"
	"github.com/brucehart/harlite/internal/harerr"
)

// headersToJSON serializes a header list to a canonical lowercase-keyed JSON
// object; the last value wins on collision, and the original list ordering
// is not preserved (spec §4.3 step 2).
func headersToJSON(headers []har.Header) (string, error) {
	m := make(map[string]string, len(headers))
	for _, h := range headers {
		m[strings.ToLower(h.Name)] = h.Value
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// cookiesToJSON serializes a cookie list verbatim as a JSON array.
func cookiesToJSON(cookies []har.Cookie) (string, error) {
	if cookies == nil {
		cookies = []har.Cookie{}
	}
	b, err := json.Marshal(cookies)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// headerValue looks up a header case-insensitively.
func headerValue(headers []har.Header, name string) (string, bool) {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// urlParts holds the decomposed URL; on parse failure all three are empty
// and the caller preserves the raw URL instead (spec §4.3 step 1).
type urlParts struct {
	Host, Path, Query string
	OK                bool
}

func parseURLParts(raw string) urlParts {
	u, err := url.Parse(raw)
	if err != nil {
		return urlParts{}
	}
	return urlParts{Host: u.Hostname(), Path: u.Path, Query: u.RawQuery, OK: true}
}

// responseMimeType resolves mime per spec §4.3 step 4: content.mimeType
// first, else the Content-Type header with parameters stripped.
func responseMimeType(content har.Content, headers []har.Header) string {
	if content.MimeType != "" {
		return stripMimeParams(content.MimeType)
	}
	if v, ok := headerValue(headers, "Content-Type"); ok {
		return stripMimeParams(v)
	}
	return ""
}

func stripMimeParams(mime string) string {
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		return strings.TrimSpace(mime[:i])
	}
	return strings.TrimSpace(mime)
}

// isTextMimeType matches spec §4.3 step 5's textual-MIME gate.
func isTextMimeType(mime string) bool {
	if mime == "" {
		return false
	}
	m := strings.ToLower(mime)
	for _, needle := range []string{"text/", "json", "xml", "javascript", "css", "html", "x-www-form-urlencoded"} {
		if strings.Contains(m, needle) {
			return true
		}
	}
	return false
}

// decodeBody decodes postData.text or content.text, honoring a base64
// encoding hint.
func decodeBody(text string, encoding string) ([]byte, error) {
	if strings.EqualFold(encoding, "base64") {
		b, err := base64.StdEncoding.DecodeString(text)
		if err != nil {
			return nil, harerr.New(harerr.InputInvalid, "importer.decodeBody", err)
		}
		return b, nil
	}
	return []byte(text), nil
}

// synthesizePostParams url-encodes postData.params into "a=1&b=two+words"
// form when no raw text is present (spec §4.3 step 5).
func synthesizePostParams(params []har.PostParam) []byte {
	values := url.Values{}
	for _, p := range params {
		values.Add(p.Name, p.Value)
	}
	return []byte(values.Encode())
}

// decompressBody reverses the Content-Encoding chain (gzip/x-gzip/br;
// identity skipped) and caps decoded size (spec §4.3 step 6).
func decompressBody(data []byte, contentEncoding string, maxSize int64) ([]byte, error) {
	if contentEncoding == "" {
		return data, nil
	}
	codecs := strings.Split(contentEncoding, ",")
	for i := len(codecs) - 1; i >= 0; i-- {
		codec := strings.ToLower(strings.TrimSpace(codecs[i]))
		switch codec {
		case "gzip", "x-gzip":
			r, err := gzip.NewReader(bytes.NewReader(data))
			if err != nil {
				return nil, harerr.New(harerr.InputInvalid, "importer.decompressBody", err)
			}
			out, err := readLimited(r, maxSize)
			r.Close()
			if err != nil {
				return nil, err
			}
			data = out
		case "br":
			r := brotli.NewReader(bytes.NewReader(data))
			out, err := readLimited(r, maxSize)
			if err != nil {
				return nil, err
			}
			data = out
		case "identity", "":
			// no-op
		default:
			return nil, harerr.New(harerr.InputInvalid, "importer.decompressBody",
				fmt.Errorf("unsupported content-encoding %q", codec))
		}
	}
	return data, nil
}

// readLimited reads up to maxSize+1 bytes and errors if the stream exceeds
// the cap, matching the original's read_to_end_limited guard.
func readLimited(r io.Reader, maxSize int64) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxDecompressedBytes
	}
	limited := io.LimitReader(r, maxSize+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, harerr.New(harerr.InputInvalid, "importer.readLimited", err)
	}
	if int64(len(data)) > maxSize {
		return nil, harerr.New(harerr.InputInvalid, "importer.readLimited",
			fmt.Errorf("decompressed body exceeds max size %d", maxSize))
	}
	return data, nil
}

func hasCompressibleEncoding(contentEncoding string) bool {
	for _, codec := range strings.Split(contentEncoding, ",") {
		codec = strings.ToLower(strings.TrimSpace(codec))
		if codec == "gzip" || codec == "x-gzip" || codec == "br" {
			return true
		}
	}
	return false
}
