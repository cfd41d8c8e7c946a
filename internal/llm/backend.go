package llm

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/aletheia-memory-sidecar/internal/jsonx"
)

// Tier identifies which extraction backend is live.
type Tier int

const (
	TierAnthropic Tier = 1
	TierOllama    Tier = 2
	TierNone      Tier = 3
)

// HaikuModel is the extraction model for both Anthropic auth modes.
const HaikuModel = "claude-haiku-4-5-20251001"

// ollamaPreferredModels are tried in order; all handle structured JSON
// extraction acceptably.
var ollamaPreferredModels = []string{
	"qwen2.5:7b",
	"qwen2.5:3b",
	"llama3.1:8b",
	"gemma2:9b",
	"mistral:7b",
	"phi3:3.8b",
}

// minOllamaModelGB is the fallback size floor, roughly 3B parameters.
const minOllamaModelGB = 1.5

// Backend describes the detected tier.
type Backend struct {
	Tier     Tier   `json:"tier"`
	Provider string `json:"provider"`
	Model    string `json:"model,omitempty"`
}

// Config holds detection inputs.
type Config struct {
	CredentialsPath string
	AnthropicAPIKey string
	OllamaURL       string
	Model           string
	RefreshInterval time.Duration
}

// DefaultConfig resolves the credentials path under the aletheia home.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	aletheiaHome := os.Getenv("ALETHEIA_HOME")
	if aletheiaHome == "" {
		aletheiaHome = filepath.Join(home, ".aletheia")
	}
	return Config{
		CredentialsPath: filepath.Join(aletheiaHome, "credentials", "anthropic.json"),
		OllamaURL:       "http://localhost:11434",
		Model:           HaikuModel,
		RefreshInterval: 5 * time.Minute,
	}
}

// Detector holds the current backend and swaps clients when the OAuth
// token rotates.
type Detector struct {
	cfg        Config
	logger     *zap.Logger
	httpClient *http.Client

	mu      sync.RWMutex
	backend Backend
	client  Client
	token   string
}

// NewDetector creates a detector; call Detect before first use.
func NewDetector(cfg Config, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Model == "" {
		cfg.Model = HaikuModel
	}
	if cfg.OllamaURL == "" {
		cfg.OllamaURL = DefaultConfig().OllamaURL
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultConfig().RefreshInterval
	}
	return &Detector{
		cfg:        cfg,
		logger:     logger.Named("llm"),
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// Detect probes the tiers in order and installs the winner.
func (d *Detector) Detect(ctx context.Context) Backend {
	backend, client, token := d.probe(ctx)

	d.mu.Lock()
	d.backend = backend
	d.client = client
	d.token = token
	d.mu.Unlock()

	switch backend.Tier {
	case TierAnthropic:
		d.logger.Info("Tier 1: Anthropic",
			zap.String("provider", backend.Provider),
			zap.String("model", backend.Model))
	case TierOllama:
		d.logger.Info("Tier 2: Ollama", zap.String("model", backend.Model))
	default:
		d.logger.Warn("Tier 3: no LLM available, embedding-only mode")
	}
	return backend
}

func (d *Detector) probe(ctx context.Context) (Backend, Client, string) {
	if token := readOAuthToken(d.cfg.CredentialsPath, d.logger); token != "" {
		return Backend{Tier: TierAnthropic, Provider: "anthropic-oauth", Model: d.cfg.Model},
			NewAnthropicOAuthClient(token, d.cfg.Model), token
	}

	if key := strings.TrimSpace(d.cfg.AnthropicAPIKey); key != "" {
		return Backend{Tier: TierAnthropic, Provider: "anthropic-apikey", Model: d.cfg.Model},
			NewAnthropicAPIClient(key, d.cfg.Model), ""
	}

	if model := d.checkOllama(ctx); model != "" {
		return Backend{Tier: TierOllama, Provider: "ollama", Model: model},
			NewOllamaClient(d.cfg.OllamaURL, model), ""
	}

	return Backend{Tier: TierNone, Provider: "none"}, nil, ""
}

// checkOllama returns the best installed model, or "".
func (d *Detector) checkOllama(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.cfg.OllamaURL+"/api/tags", nil)
	if err != nil {
		return ""
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
			Size int64  `json:"size"`
		} `json:"models"`
	}
	if err := jsonx.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return ""
	}

	available := make(map[string]bool, len(tags.Models))
	for _, m := range tags.Models {
		available[m.Name] = true
	}
	for _, model := range ollamaPreferredModels {
		if available[model] {
			d.logger.Info("Ollama: found preferred model", zap.String("model", model))
			return model
		}
	}

	for _, m := range tags.Models {
		sizeGB := float64(m.Size) / (1 << 30)
		if sizeGB >= minOllamaModelGB {
			d.logger.Info("Ollama: using available model",
				zap.String("model", m.Name),
				zap.Float64("size_gb", sizeGB))
			return m.Name
		}
	}

	d.logger.Info("Ollama running but no suitable models found")
	return ""
}

// Backend returns the current detection result.
func (d *Detector) Backend() Backend {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.backend
}

// Client returns the live completion client, nil on tier three.
func (d *Detector) Client() Client {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.client
}

// ExtractionEnabled reports whether fact extraction can run.
func (d *Detector) ExtractionEnabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.backend.Tier != TierNone && d.client != nil
}

// Refresh re-reads the OAuth token. A rotated token swaps the client
// in place; a missing token forces full re-detection.
func (d *Detector) Refresh(ctx context.Context) {
	d.mu.RLock()
	provider := d.backend.Provider
	current := d.token
	d.mu.RUnlock()

	if provider != "anthropic-oauth" {
		return
	}

	newToken := readOAuthToken(d.cfg.CredentialsPath, d.logger)
	if newToken == "" {
		d.logger.Warn("OAuth token disappeared, re-detecting backend")
		d.Detect(ctx)
		return
	}
	if newToken == current {
		return
	}

	d.logger.Info("OAuth token rotated, re-creating Anthropic client")
	client := NewAnthropicOAuthClient(newToken, d.cfg.Model)
	d.mu.Lock()
	d.client = client
	d.token = newToken
	d.mu.Unlock()
}

// Watch blocks until ctx is done, refreshing on credential file
// changes and on the periodic interval. Run it as a goroutine.
func (d *Detector) Watch(ctx context.Context) {
	var events <-chan fsnotify.Event
	var errs <-chan error

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.logger.Warn("Credentials watcher unavailable, using interval refresh only", zap.Error(err))
	} else {
		dir := filepath.Dir(d.cfg.CredentialsPath)
		if err := watcher.Add(dir); err != nil {
			d.logger.Warn("Cannot watch credentials directory", zap.String("dir", dir), zap.Error(err))
			watcher.Close()
		} else {
			defer watcher.Close()
			events = watcher.Events
			errs = watcher.Errors
		}
	}

	ticker := time.NewTicker(d.cfg.RefreshInterval)
	defer ticker.Stop()

	credFile := filepath.Base(d.cfg.CredentialsPath)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Base(ev.Name) == credFile && ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				d.Refresh(ctx)
			}
		case werr, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			d.logger.Warn("Credentials watcher error", zap.Error(werr))
		case <-ticker.C:
			d.Refresh(ctx)
		}
	}
}

// readOAuthToken parses the gateway credentials file. Tokens shorter
// than 21 bytes are treated as absent.
func readOAuthToken(path string, logger *zap.Logger) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	var creds struct {
		Token string `json:"token"`
	}
	if err := jsonx.Unmarshal(data, &creds); err != nil {
		logger.Warn("Failed to parse OAuth credentials", zap.Error(err))
		return ""
	}
	if len(creds.Token) > 20 {
		return creds.Token
	}
	return ""
}
