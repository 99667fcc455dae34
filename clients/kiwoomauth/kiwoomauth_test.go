package kiwoomauth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"kiwoombot/config"

	"go.uber.org/zap"
)

func testConfig(host string) *config.Config {
	cfg := config.Defaults()
	cfg.Kiwoom.APIHost = host
	cfg.Kiwoom.AppKey = "test-app-key"
	cfg.Kiwoom.SecretKey = "test-secret-key"
	return cfg
}

func TestGetAccessToken_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth2/token" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json;charset=UTF-8" {
			t.Errorf("unexpected content type: %s", ct)
		}

		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req["grant_type"] != "client_credentials" {
			t.Errorf("unexpected grant type: %s", req["grant_type"])
		}
		if req["appkey"] != "test-app-key" {
			t.Errorf("unexpected app key: %s", req["appkey"])
		}
		if req["secretkey"] != "test-secret-key" {
			t.Errorf("unexpected secret key: %s", req["secretkey"])
		}

		json.NewEncoder(w).Encode(map[string]string{
			"token":      "issued-token",
			"token_type": "Bearer",
			"expires_dt": "20260828235959",
		})
	}))
	defer server.Close()

	client := NewClient(zap.NewNop(), testConfig(server.URL))

	token, err := client.GetAccessToken(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "issued-token" {
		t.Errorf("unexpected token: %s", token)
	}
}

func TestGetAccessToken_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"return_msg":"invalid credentials"}`))
	}))
	defer server.Close()

	client := NewClient(zap.NewNop(), testConfig(server.URL))

	_, err := client.GetAccessToken(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, ErrAuthFailure) {
		t.Errorf("expected ErrAuthFailure, got: %v", err)
	}
}

func TestGetAccessToken_EmptyToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"token": ""})
	}))
	defer server.Close()

	client := NewClient(zap.NewNop(), testConfig(server.URL))

	_, err := client.GetAccessToken(context.Background())
	if !errors.Is(err, ErrAuthFailure) {
		t.Errorf("expected ErrAuthFailure, got: %v", err)
	}
}
