package entities

import "net/http"

// UpstreamResponse carries the live provider response. The body is not
// buffered so streaming completions can be read incrementally.
type UpstreamResponse struct {
	Response *http.Response
	Err      error
}
