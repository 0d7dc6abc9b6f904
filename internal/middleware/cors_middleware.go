package middleware

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
)

// normalizeOrigin reduces an origin to "scheme://host[:port]" in lower case,
// dropping default ports. It returns "" for anything that is not an origin.
func normalizeOrigin(raw string) string {
	u, err := url.Parse(strings.TrimSpace(strings.TrimSuffix(raw, "/")))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	if (scheme == "https" && strings.HasSuffix(host, ":443")) || (scheme == "http" && strings.HasSuffix(host, ":80")) {
		host = host[:strings.LastIndexByte(host, ':')]
	}
	return scheme + "://" + host
}

// CORSMiddleware lets the listed dashboard origins call the API from a
// browser. An empty list allows no cross-origin callers; the ingest routes
// do not need CORS since SDKs call them server-side or through JSONP.
func CORSMiddleware(origins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o = normalizeOrigin(o); o != "" {
			allowed[o] = true
		}
	}

	return func(c *gin.Context) {
		c.Header("Vary", "Origin")
		if origin := c.Request.Header.Get("Origin"); origin != "" && allowed[normalizeOrigin(origin)] {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, Accept, Cache-Control, X-Request-Id")
			c.Header("Access-Control-Expose-Headers", "X-Request-Id, Retry-After")
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Max-Age", "86400")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
