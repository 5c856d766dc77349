package dispatch

import (
	"context"
	"net/http"
)

// DoJSON issues a request and decodes the JSON response into T.
func DoJSON[T any](ctx context.Context, r Requester, path string, opts Options) (T, error) {
	var out T
	resp, err := r.Request(ctx, path, opts)
	if err != nil {
		return out, err
	}
	if err := resp.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}

// GetJSON is DoJSON for a GET without a body.
func GetJSON[T any](ctx context.Context, r Requester, path string) (T, error) {
	return DoJSON[T](ctx, r, path, Options{Method: http.MethodGet})
}
