package config

import "testing"

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("GATEWAY_ENV", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("GATEWAY_PORT", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Env != Development {
		t.Errorf("expected default env development, got %s", cfg.Env)
	}
	if cfg.GatewayPort != 8080 {
		t.Errorf("expected default gateway port 8080, got %d", cfg.GatewayPort)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected default log level info, got %s", cfg.LogLevel)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("GATEWAY_ENV", "testing")
	t.Setenv("GATEWAY_PORT", "9999")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("RATE_LIMIT_REQUESTS", "50")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Env != Testing {
		t.Errorf("expected env testing, got %s", cfg.Env)
	}
	if cfg.GatewayPort != 9999 {
		t.Errorf("expected overridden port 9999, got %d", cfg.GatewayPort)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected overridden log level debug, got %s", cfg.LogLevel)
	}
	if cfg.RateLimitRequests != 50 {
		t.Errorf("expected overridden rate limit 50, got %d", cfg.RateLimitRequests)
	}
}

func TestLoad_RejectsInvalidEnvironment(t *testing.T) {
	t.Setenv("GATEWAY_ENV", "bogus")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid GATEWAY_ENV")
	}
}

func TestLoad_RejectsMalformedDuration(t *testing.T) {
	t.Setenv("GATEWAY_ENV", "")
	t.Setenv("HTTP_READ_TIMEOUT", "not-a-duration")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for malformed HTTP_READ_TIMEOUT")
	}
}

func TestValidate_ProductionRequiresSigningKeyAndRateLimit(t *testing.T) {
	cfg := &Config{Env: Production, GatewayPort: 8080, RateLimitEnabled: true, JWTSigningKey: ""}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing JWT signing key in production")
	}

	cfg.JWTSigningKey = "secret"
	cfg.RateLimitEnabled = false
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for disabled rate limiting in production")
	}
}

func TestValidate_RejectsBadPort(t *testing.T) {
	cfg := &Config{Env: Development, GatewayPort: 0}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid port")
	}
}
