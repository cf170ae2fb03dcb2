package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestSystemHandler_Health(t *testing.T) {
	gin.SetMode(gin.TestMode)

	handler := NewSystemHandler("redis", "v1.2.3")

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	handler.Health(c)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	var response map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}

	expected := map[string]string{
		"status":  "ok",
		"service": "nshare",
		"storage": "redis",
		"version": "v1.2.3",
	}
	for field, want := range expected {
		if got, ok := response[field]; !ok {
			t.Errorf("Expected '%s' field in response", field)
		} else if got != want {
			t.Errorf("Expected %s '%s', got '%v'", field, want, got)
		}
	}
}
