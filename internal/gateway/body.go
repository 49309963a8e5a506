package gateway

import (
	"bytes"
	"io"
	"net/http"
)

// readBody drains r.Body into memory so it can both be hashed for signature
// verification and re-read by the downstream JSON decoder.
func readBody(r *http.Request) []byte {
	if r.Body == nil {
		return nil
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil
	}
	return body
}

func newBodyReader(body []byte) io.ReadCloser {
	return io.NopCloser(bytes.NewReader(body))
}
