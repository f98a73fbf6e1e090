package upstream

import (
	"net/http"
	"strings"
)

// hopHeaders apply to a single connection and are never proxied.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// RelayedResponseHeaders are copied from a proxied response to the client.
var RelayedResponseHeaders = []string{
	"Content-Type",
	"Content-Encoding",
	"Content-Disposition",
	"Location",
	"Cache-Control",
	"Expires",
	"ETag",
	"Last-Modified",
	"Vary",
}

func copyRequestHeaders(dst, src http.Header) {
	for k, vv := range src {
		if strings.EqualFold(k, "Host") || strings.EqualFold(k, "Content-Length") {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}

	// Headers named in Connection are hop-by-hop as well
	for _, v := range src.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				dst.Del(name)
			}
		}
	}
	for _, h := range hopHeaders {
		dst.Del(h)
	}
}

// CopyResponseHeaders copies the relayed subset of src into dst.
func CopyResponseHeaders(dst, src http.Header) {
	for _, h := range RelayedResponseHeaders {
		for _, v := range src.Values(h) {
			dst.Add(h, v)
		}
	}
}
