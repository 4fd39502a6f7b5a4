package bench

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var errEmptyDownload = errors.New("empty download")

func newGetRequest(ctx context.Context, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

func httpStatusError(code int) error {
	return fmt.Errorf("HTTP %d", code)
}
