package entities

import (
	"context"
	"net/http"
)

// UpstreamRequest is a provider call waiting for admission in the queue.
type UpstreamRequest struct {
	Ctx     context.Context
	Request *http.Request
	Reply   chan UpstreamResponse
}
