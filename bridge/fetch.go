package bridge

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Fetcher performs network requests for guests.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest, maxBody int64) (FetchResponse, error)
}

// HTTPFetcher is a Fetcher backed by net/http.
type HTTPFetcher struct {
	Client    *http.Client
	UserAgent string
}

// NewHTTPFetcher returns a fetcher whose client gives up after timeout.
func NewHTTPFetcher(timeout time.Duration, userAgent string) *HTTPFetcher {
	return &HTTPFetcher{
		Client:    &http.Client{Timeout: timeout},
		UserAgent: userAgent,
	}
}

// Fetch performs req. Bodies larger than maxBody are an error.
func (f *HTTPFetcher) Fetch(ctx context.Context, req FetchRequest, maxBody int64) (FetchResponse, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return FetchResponse{}, fmt.Errorf("create request: %w", err)
	}
	for name, values := range req.Headers {
		for _, v := range values {
			httpReq.Header.Add(name, v)
		}
	}
	if f.UserAgent != "" && httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", f.UserAgent)
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return FetchResponse{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody+1))
	if err != nil {
		return FetchResponse{}, fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > maxBody {
		return FetchResponse{}, fmt.Errorf("response body exceeds %d bytes", maxBody)
	}

	return FetchResponse{
		Status:  resp.StatusCode,
		Headers: resp.Header,
		Body:    data,
	}, nil
}
