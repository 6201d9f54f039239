package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"slices"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"dify", "openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// localProviders run without credentials.
var localProviders = []string{"ollama", "llamacpp", "llamafile"}

// envRefRe matches ${VAR} references.
var envRefRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. ${VAR} references are replaced with the value of the
// environment variable VAR before decoding; unset variables expand to "".
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	data = ExpandEnv(data)

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ExpandEnv replaces every ${VAR} in data with the value of VAR.
func ExpandEnv(data []byte) []byte {
	return envRefRe.ReplaceAllFunc(data, func(m []byte) []byte {
		name := envRefRe.FindSubmatch(m)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout %s must not be negative", cfg.Server.ShutdownTimeout))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required"))
	} else {
		validateProviderEntry("providers.llm", cfg.Providers.LLM)
	}
	for i, fb := range cfg.Providers.Fallbacks {
		prefix := fmt.Sprintf("providers.fallbacks[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		validateProviderEntry(prefix, fb)
	}

	// Proofread
	p := cfg.Proofread
	if p.CheckTimeout < 0 {
		errs = append(errs, fmt.Errorf("proofread.check_timeout %s must not be negative", p.CheckTimeout))
	}
	if p.Temperature < 0 || p.Temperature > 2 {
		errs = append(errs, fmt.Errorf("proofread.temperature %.2f is out of range [0, 2]", p.Temperature))
	}
	if p.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("proofread.max_tokens %d must not be negative", p.MaxTokens))
	}
	if strings.IndexFunc(p.Punctuation, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r)
	}) >= 0 {
		errs = append(errs, fmt.Errorf("proofread.punctuation %q may only contain punctuation marks", p.Punctuation))
	}

	// Check log
	cl := cfg.CheckLog
	if cl.Backend != "" && !cl.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("checklog.backend %q is invalid; valid values: none, file, sqlite, postgres", cl.Backend))
	}
	if (cl.Backend == CheckLogFile || cl.Backend == CheckLogSQLite) && cl.Path == "" {
		errs = append(errs, fmt.Errorf("checklog.path is required when backend is %s", cl.Backend))
	}
	if cl.Backend == CheckLogPostgres && cl.DSN == "" {
		errs = append(errs, errors.New("checklog.dsn is required when backend is postgres"))
	}

	// MCP
	if cfg.MCP.Enabled && !strings.HasPrefix(cfg.MCP.Path, "/") {
		errs = append(errs, fmt.Errorf("mcp.path %q must start with /", cfg.MCP.Path))
	}

	return errors.Join(errs...)
}

// validateProviderEntry logs warnings for an entry that will probably fail
// at request time.
func validateProviderEntry(field string, e ProviderEntry) {
	validateProviderName("llm", e.Name)
	if e.APIKey == "" && !slices.Contains(localProviders, e.Name) {
		slog.Warn("provider has no api_key; requests will likely be rejected",
			"field", field,
			"name", e.Name,
		)
	}
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
