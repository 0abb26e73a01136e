package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLocalLinkCodeFormat(t *testing.T) {
	client := NewLinkClient("")
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		code, err := client.RequestLinkCode(context.Background(), "user-1")
		if err != nil {
			t.Fatalf("RequestLinkCode failed: %v", err)
		}
		if len(code) != 8 {
			t.Fatalf("Expected 8-character code, got %q", code)
		}
		for _, r := range code {
			if !strings.ContainsRune(linkCodeAlphabet, r) {
				t.Fatalf("Code %q contains invalid character %q", code, r)
			}
		}
		seen[code] = true
	}
	if len(seen) < 2 {
		t.Error("Expected codes to vary across calls")
	}
}

func TestLinkCodeFromBackend(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/link/init" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		var payload map[string]string
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("Failed to decode payload: %v", err)
		}
		if payload["user_id"] != "user-42" {
			t.Errorf("Unexpected user_id %q", payload["user_id"])
		}
		json.NewEncoder(w).Encode(map[string]string{"code": "ABCD1234"})
	}))
	defer server.Close()

	client := NewLinkClient(server.URL)
	code, err := client.RequestLinkCode(context.Background(), "user-42")
	if err != nil {
		t.Fatalf("RequestLinkCode failed: %v", err)
	}
	if code != "ABCD1234" {
		t.Errorf("Expected backend code, got %q", code)
	}
}

func TestLinkCodeBackendError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewLinkClient(server.URL)
	if _, err := client.RequestLinkCode(context.Background(), "user-1"); err == nil {
		t.Error("Expected error for backend failure")
	}
}
