package gateway

import (
	"context"
	"net/http"
)

func BuildEngineForTest(sdls, hosts map[string]string) error {
	_, err := buildEngine(sdls, hosts, nil)
	return err
}

func CopyMapForTest(m map[string]string) map[string]string {
	return copyMap(m)
}

func FetchSDLForTest(ctx context.Context, host string, client *http.Client, retry RetryOption) (string, error) {
	return fetchSDL(ctx, host, client, retry)
}
