package merchant

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/merchantkit/coflink-gateway/internal/coflink"
)

// Config holds the merchant's contract with the bank: identity, key
// material, and the gateway behavior flags. It is read-only to the engine.
type Config struct {
	MerchantID     string `yaml:"merchant_id"`
	PrivateKey     string `yaml:"private_key"`      // PEM, may be passphrase-protected
	PrivateKeyPass string `yaml:"private_key_pass"` // empty for unprotected keys
	BankPublicKey  string `yaml:"bank_public_key"`  // PEM

	RequestURL           string `yaml:"request_url"` // empty means the production endpoint
	TestMode             bool   `yaml:"test_mode"`
	AllowManualSignature bool   `yaml:"allow_manual_signature"`
	Language             string `yaml:"language"` // EST or RUS

	ManualSignatureMessage string `yaml:"manual_signature_message"`

	// Storefront URLs the callback handler hands back for redirecting.
	SuccessURL  string `yaml:"success_url"`
	CheckoutURL string `yaml:"checkout_url"`

	// ReturnBaseURL is where the bank sends the customer and the
	// asynchronous notification; the order correlation parameter is
	// appended per request.
	ReturnBaseURL string `yaml:"return_base_url"`
}

// Load reads and validates a merchant configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read merchant config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse merchant config: %w", err)
	}

	if cfg.Language == "" {
		cfg.Language = coflink.DefaultLanguage
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid merchant config: %w", err)
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.MerchantID == "" {
		return fmt.Errorf("merchant_id is required")
	}
	if cfg.PrivateKey == "" {
		return fmt.Errorf("private_key is required")
	}
	if cfg.BankPublicKey == "" {
		return fmt.Errorf("bank_public_key is required")
	}
	if cfg.ReturnBaseURL == "" {
		return fmt.Errorf("return_base_url is required")
	}
	if cfg.SuccessURL == "" || cfg.CheckoutURL == "" {
		return fmt.Errorf("success_url and checkout_url are required")
	}
	if cfg.Language != "EST" && cfg.Language != "RUS" {
		return fmt.Errorf("language must be EST or RUS, got %q", cfg.Language)
	}
	return nil
}
