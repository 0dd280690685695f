// Package validation provides request validation middleware and helpers
// shared by the HTTP handlers.
package validation

import (
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"
)

// MaxRequestBodySize caps join and answer payloads. Gateway events are
// small; anything larger is hostile or broken.
const MaxRequestBodySize = 64 * 1024

// snowflakeRe matches Discord snowflake IDs. Snowflakes are 64-bit
// integers rendered as decimal strings, 17-20 digits in practice.
var snowflakeRe = regexp.MustCompile(`^\d{17,20}$`)

// RequestSizeMiddleware rejects oversized request bodies before handlers
// attempt to read them.
func RequestSizeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > MaxRequestBodySize {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": "request body too large",
			})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxRequestBodySize)
		c.Next()
	}
}

// IsSnowflake reports whether s looks like a Discord snowflake ID.
func IsSnowflake(s string) bool {
	return snowflakeRe.MatchString(s)
}

// SnowflakeParamMiddleware validates that the named URL params are
// well-formed snowflakes, rejecting garbage before it reaches handlers.
func SnowflakeParamMiddleware(params ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, p := range params {
			if v := c.Param(p); v != "" && !IsSnowflake(v) {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
					"error": "invalid " + p,
				})
				return
			}
		}
		c.Next()
	}
}
