package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zaptest"
)

func writeCreds(t *testing.T, dir, token string) string {
	t.Helper()
	path := filepath.Join(dir, "anthropic.json")
	if err := os.WriteFile(path, []byte(`{"token": "`+token+`"}`), 0600); err != nil {
		t.Fatalf("write creds: %v", err)
	}
	return path
}

func TestReadOAuthToken(t *testing.T) {
	logger := zaptest.NewLogger(t)
	dir := t.TempDir()

	path := writeCreds(t, dir, "sk-ant-REDACTED")
	if got := readOAuthToken(path, logger); got != "sk-ant-REDACTED" {
		t.Errorf("Expected token, got %q", got)
	}

	// Too short means absent.
	path = writeCreds(t, dir, "short")
	if got := readOAuthToken(path, logger); got != "" {
		t.Errorf("Expected empty for short token, got %q", got)
	}

	// Garbage file.
	garbage := filepath.Join(dir, "bad.json")
	os.WriteFile(garbage, []byte("{not json"), 0600)
	if got := readOAuthToken(garbage, logger); got != "" {
		t.Errorf("Expected empty for invalid JSON, got %q", got)
	}

	// Missing file.
	if got := readOAuthToken(filepath.Join(dir, "nope.json"), logger); got != "" {
		t.Errorf("Expected empty for missing file, got %q", got)
	}
}

func fakeOllama(t *testing.T, tagsJSON string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(tagsJSON))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDetectOAuthTier(t *testing.T) {
	dir := t.TempDir()
	path := writeCreds(t, dir, "sk-ant-REDACTED")

	d := NewDetector(Config{
		CredentialsPath: path,
		OllamaURL:       "http://127.0.0.1:1", // never reached
	}, zaptest.NewLogger(t))

	backend := d.Detect(context.Background())
	if backend.Tier != TierAnthropic || backend.Provider != "anthropic-oauth" {
		t.Fatalf("Expected tier 1 oauth, got %+v", backend)
	}
	if backend.Model != HaikuModel {
		t.Errorf("Expected %s, got %s", HaikuModel, backend.Model)
	}
	if !d.ExtractionEnabled() {
		t.Error("Expected extraction enabled")
	}
}

func TestDetectAPIKeyTier(t *testing.T) {
	d := NewDetector(Config{
		CredentialsPath: filepath.Join(t.TempDir(), "absent.json"),
		AnthropicAPIKey: "sk-ant-api-key",
		OllamaURL:       "http://127.0.0.1:1",
	}, zaptest.NewLogger(t))

	backend := d.Detect(context.Background())
	if backend.Tier != TierAnthropic || backend.Provider != "anthropic-apikey" {
		t.Fatalf("Expected tier 1 apikey, got %+v", backend)
	}
}

func TestDetectOllamaPreferred(t *testing.T) {
	srv := fakeOllama(t, `{"models": [
		{"name": "llama3.1:8b", "size": 4700000000},
		{"name": "qwen2.5:7b", "size": 4400000000}
	]}`)

	d := NewDetector(Config{
		CredentialsPath: filepath.Join(t.TempDir(), "absent.json"),
		OllamaURL:       srv.URL,
	}, zaptest.NewLogger(t))

	backend := d.Detect(context.Background())
	if backend.Tier != TierOllama {
		t.Fatalf("Expected tier 2, got %+v", backend)
	}
	// Preference order beats listing order.
	if backend.Model != "qwen2.5:7b" {
		t.Errorf("Expected qwen2.5:7b, got %s", backend.Model)
	}
}

func TestDetectOllamaSizeFallback(t *testing.T) {
	srv := fakeOllama(t, `{"models": [
		{"name": "tiny:1b", "size": 600000000},
		{"name": "custom-model:13b", "size": 7800000000}
	]}`)

	d := NewDetector(Config{
		CredentialsPath: filepath.Join(t.TempDir(), "absent.json"),
		OllamaURL:       srv.URL,
	}, zaptest.NewLogger(t))

	backend := d.Detect(context.Background())
	if backend.Tier != TierOllama || backend.Model != "custom-model:13b" {
		t.Fatalf("Expected size fallback to custom-model:13b, got %+v", backend)
	}
}

func TestDetectNoneTier(t *testing.T) {
	srv := fakeOllama(t, `{"models": [{"name": "tiny:1b", "size": 600000000}]}`)

	d := NewDetector(Config{
		CredentialsPath: filepath.Join(t.TempDir(), "absent.json"),
		OllamaURL:       srv.URL,
	}, zaptest.NewLogger(t))

	backend := d.Detect(context.Background())
	if backend.Tier != TierNone {
		t.Fatalf("Expected tier 3, got %+v", backend)
	}
	if d.Client() != nil {
		t.Error("Expected nil client on tier 3")
	}
	if d.ExtractionEnabled() {
		t.Error("Expected extraction disabled")
	}
}

func TestRefreshSwapsRotatedToken(t *testing.T) {
	dir := t.TempDir()
	path := writeCreds(t, dir, "sk-ant-REDACTED")

	d := NewDetector(Config{
		CredentialsPath: path,
		OllamaURL:       "http://127.0.0.1:1",
	}, zaptest.NewLogger(t))
	d.Detect(context.Background())

	before := d.Client()
	writeCreds(t, dir, "sk-ant-REDACTED")
	d.Refresh(context.Background())

	if d.Client() == before {
		t.Error("Expected client swap after token rotation")
	}
	if d.Backend().Provider != "anthropic-oauth" {
		t.Errorf("Provider changed unexpectedly: %+v", d.Backend())
	}
}

func TestRefreshFallsBackWhenTokenGone(t *testing.T) {
	dir := t.TempDir()
	path := writeCreds(t, dir, "sk-ant-REDACTED")

	d := NewDetector(Config{
		CredentialsPath: path,
		AnthropicAPIKey: "sk-ant-api-key",
		OllamaURL:       "http://127.0.0.1:1",
	}, zaptest.NewLogger(t))
	d.Detect(context.Background())

	os.Remove(path)
	d.Refresh(context.Background())

	if d.Backend().Provider != "anthropic-apikey" {
		t.Errorf("Expected fallback to API key, got %+v", d.Backend())
	}
}
