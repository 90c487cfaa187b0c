// optional file-backed HTTP response cache.
// responses are dumped whole to disk, keyed on the request URL,
// and replayed on subsequent requests. useful during development
// to avoid burning through the Github API quota.
package main

import (
	"bufio"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"os"
)

// returns a path like "/path/to/cache-dir/711f20df1f76da140218e51445a6fc47"
func CachePath(cache_dir string, cache_key string) string {
	return fmt.Sprintf("%s/%s", cache_dir, cache_key)
}

// creates a key that is unique to the given `http.Request` URL (including query parameters),
// hashed to an MD5 string.
// the result can be safely used as a filename.
func MakeCacheKey(r *http.Request) string {
	// inconsistent case and url params etc will cause cache misses
	key := r.URL.String()
	md5sum := md5.Sum([]byte(key))
	return hex.EncodeToString(md5sum[:])
}

// reads the cached response as if it were the result of `httputil.DumpResponse`,
// a status code, followed by a series of headers, followed by the response body.
func ReadCacheEntry(cache_path string) (*http.Response, error) {
	fh, err := os.Open(cache_path)
	if err != nil {
		return nil, err
	}
	return http.ReadResponse(bufio.NewReader(fh), nil)
}

type FileCachingRequest struct {
	CacheDir string
}

func (x FileCachingRequest) RoundTrip(req *http.Request) (*http.Response, error) {
	cache_key := MakeCacheKey(req)
	cache_path := CachePath(x.CacheDir, cache_key)
	cached_resp, err := ReadCacheEntry(cache_path)
	if err != nil {
		slog.Debug("cache MISS", "url", req.URL, "cache-path", cache_path, "error", err)

		resp, err := http.DefaultTransport.RoundTrip(req)
		if err != nil {
			// do not cache error response, pass through
			return resp, err
		}

		if resp.StatusCode != 200 {
			// non-200 response, pass through
			slog.Debug("non-200 response, pass through", "code", resp.StatusCode)
			return resp, nil
		}

		fh, err := os.Create(cache_path)
		if err != nil {
			slog.Warn("failed to open cache file for writing", "error", err)
			return resp, nil
		}

		dumped_bytes, err := httputil.DumpResponse(resp, true)
		if err != nil {
			slog.Warn("failed to dump response to bytes", "error", err)
			return resp, nil
		}

		_, err = fh.Write(dumped_bytes)
		if err != nil {
			slog.Warn("failed to write all bytes in response to cache file", "error", err)
			fh.Close()
			return resp, nil
		}
		fh.Close()

		cached_resp, err = ReadCacheEntry(cache_path)
		if err != nil {
			slog.Warn("failed to read cache file", "error", err)
			return resp, nil
		}
		return cached_resp, nil
	}

	slog.Debug("cache HIT", "url", req.URL, "cache-path", cache_path)
	return cached_resp, nil
}
