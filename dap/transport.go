package dap

import "context"

// Transport moves CMSIS-DAP packets to and from a probe. Exchange sends one
// request and returns the matching response; implementations pad requests to
// their report size and may return trailing padding in the response.
type Transport interface {
	Open(ctx context.Context) error
	Close() error
	Exchange(ctx context.Context, request []byte) ([]byte, error)
}
