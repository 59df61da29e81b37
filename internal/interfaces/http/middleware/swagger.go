package middleware

import (
	"net"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/labdata/backend/internal/interfaces/http/dto"
)

// SwaggerConfig controls access to the API documentation
type SwaggerConfig struct {
	Enabled     bool
	RequireAuth bool     // serve the docs to admin tokens only
	AllowedIPs  []string // single addresses or CIDR ranges, empty allows all
}

// SwaggerProtection answers 404 while the docs are disabled and 403 for
// clients outside AllowedIPs. RequireAuth is enforced by the router, which
// puts JWTAuth and an admin scope check after this middleware.
func SwaggerProtection(cfg SwaggerConfig) gin.HandlerFunc {
	var (
		allowedIPs  []net.IP
		allowedNets []*net.IPNet
	)
	for _, entry := range cfg.AllowedIPs {
		if strings.Contains(entry, "/") {
			if _, network, err := net.ParseCIDR(entry); err == nil {
				allowedNets = append(allowedNets, network)
			}
			continue
		}
		if ip := net.ParseIP(entry); ip != nil {
			allowedIPs = append(allowedIPs, ip)
		}
	}

	return func(c *gin.Context) {
		if !cfg.Enabled {
			abortWithCode(c, dto.ErrCodeNotFound, "API documentation is not available")
			return
		}
		if len(cfg.AllowedIPs) > 0 && !isIPAllowed(net.ParseIP(c.ClientIP()), allowedIPs, allowedNets) {
			abortWithCode(c, dto.ErrCodeForbidden, "Access to API documentation is restricted")
			return
		}
		c.Next()
	}
}

func abortWithCode(c *gin.Context, code, message string) {
	c.Set(ErrorCodeKey, code)
	c.AbortWithStatusJSON(dto.GetHTTPStatus(code), dto.NewErrorResponse(code, message, GetRequestID(c)))
}

func isIPAllowed(ip net.IP, allowedIPs []net.IP, allowedNets []*net.IPNet) bool {
	if ip == nil {
		return false
	}
	for _, allowed := range allowedIPs {
		if allowed.Equal(ip) {
			return true
		}
	}
	for _, network := range allowedNets {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
