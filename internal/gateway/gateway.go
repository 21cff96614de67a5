package gateway

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/univ-soa/campus-auth-api/internal/models"
	"github.com/univ-soa/campus-auth-api/internal/service"
)

// Identity headers injected for downstream services. Any client-supplied
// values are stripped before injection so identity cannot be forged.
const (
	HeaderUserID       = "X-User-Id"
	HeaderUserUsername = "X-User-Username"
	HeaderUserRole     = "X-User-Role"
)

const bearerPrefix = "Bearer "

// TokenValidator is the slice of the token codec the gateway consumes.
type TokenValidator interface {
	Validate(tokenString string) bool
	IsExpired(tokenString string) bool
	Claims(tokenString string) (*models.JWTClaims, error)
}

// Upstream describes a proxied backend service.
type Upstream struct {
	// Prefix is the route prefix forwarded to the backend, e.g. "/api/auth".
	Prefix string
	// Target is the backend base URL.
	Target string
}

// Gateway is the HTTP edge. It applies the auth filter globally and
// reverse-proxies requests to the configured upstreams.
type Gateway struct {
	tokens      TokenValidator
	publicPaths map[string]struct{}
	metrics     *service.MetricsService
	logger      *zap.Logger
}

// New constructs a Gateway. publicPaths are matched exactly against the
// request path; everything else requires a valid bearer token.
func New(tokens TokenValidator, publicPaths []string, metrics *service.MetricsService, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	public := make(map[string]struct{}, len(publicPaths))
	for _, p := range publicPaths {
		if p = strings.TrimSpace(p); p != "" {
			public[p] = struct{}{}
		}
	}
	return &Gateway{
		tokens:      tokens,
		publicPaths: public,
		metrics:     metrics,
		logger:      logger,
	}
}

// AuthFilter is the global edge filter. Public paths pass through untouched.
// Every other request must carry a valid, unexpired bearer token; rejected
// requests get a bare 401 and are never forwarded.
func (g *Gateway) AuthFilter() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Strip any client-supplied identity headers before any decision.
		c.Request.Header.Del(HeaderUserID)
		c.Request.Header.Del(HeaderUserUsername)
		c.Request.Header.Del(HeaderUserRole)

		if _, ok := g.publicPaths[c.Request.URL.Path]; ok {
			g.metrics.ObserveAuthDecision("public")
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, bearerPrefix) {
			g.reject(c, "missing bearer token")
			return
		}
		token := header[len(bearerPrefix):]

		if !g.tokens.Validate(token) {
			g.reject(c, "invalid token")
			return
		}
		if g.tokens.IsExpired(token) {
			g.reject(c, "expired token")
			return
		}

		claims, err := g.tokens.Claims(token)
		if err != nil {
			g.reject(c, "unreadable claims")
			return
		}

		c.Request.Header.Set(HeaderUserID, claims.UserID)
		c.Request.Header.Set(HeaderUserUsername, claims.Username())
		c.Request.Header.Set(HeaderUserRole, string(claims.Role))

		g.metrics.ObserveAuthDecision("allowed")
		c.Next()
	}
}

func (g *Gateway) reject(c *gin.Context, reason string) {
	g.metrics.ObserveAuthDecision("rejected")
	g.logger.Debug("request rejected at edge",
		zap.String("path", c.Request.URL.Path),
		zap.String("reason", reason))
	c.AbortWithStatus(http.StatusUnauthorized)
}

// Proxy returns a handler forwarding requests to the given upstream. An
// unreachable backend yields an explicit 502, never a silent fallback.
func (g *Gateway) Proxy(upstream Upstream) (gin.HandlerFunc, error) {
	target, err := url.Parse(upstream.Target)
	if err != nil {
		return nil, err
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		g.logger.Error("upstream unreachable",
			zap.String("prefix", upstream.Prefix),
			zap.String("target", upstream.Target),
			zap.Error(err))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":{"code":"UPSTREAM_UNAVAILABLE","message":"upstream service unavailable"}}`))
	}

	return func(c *gin.Context) {
		proxy.ServeHTTP(c.Writer, c.Request)
	}, nil
}

// Register mounts the auth filter and the upstream proxies on the router.
func (g *Gateway) Register(router *gin.Engine, upstreams []Upstream) error {
	router.Use(g.AuthFilter())
	for _, up := range upstreams {
		handler, err := g.Proxy(up)
		if err != nil {
			return err
		}
		router.Any(up.Prefix+"/*any", handler)
	}
	return nil
}
