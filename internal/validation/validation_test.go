package validation

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestIsSnowflake(t *testing.T) {
	valid := []string{"123456789012345678", "98765432109876543", "12345678901234567890"}
	for _, v := range valid {
		if !IsSnowflake(v) {
			t.Errorf("IsSnowflake(%q) = false, want true", v)
		}
	}

	invalid := []string{"", "abc", "1234", "123456789012345678901", "12345678901234567a"}
	for _, v := range invalid {
		if IsSnowflake(v) {
			t.Errorf("IsSnowflake(%q) = true, want false", v)
		}
	}
}

func TestSnowflakeParamMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/guilds/:guildId", SnowflakeParamMiddleware("guildId"), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/guilds/123456789012345678", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("valid snowflake: got %d, want 200", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/guilds/not-a-snowflake", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid snowflake: got %d, want 400", w.Code)
	}
}

func TestRequestSizeMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestSizeMiddleware())
	r.POST("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{}"))
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("small body: got %d, want 200", w.Code)
	}

	big := strings.NewReader(strings.Repeat("x", MaxRequestBodySize+1))
	req = httptest.NewRequest(http.MethodPost, "/", big)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized body: got %d, want 413", w.Code)
	}
}
