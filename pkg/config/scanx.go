package config

import "time"

// ScanxConfig configures the AI scan service client.
type ScanxConfig struct {
	BaseURL    string
	BackendURL string
	APIKey     string
	Timeout    time.Duration
}

func loadScanxConfig() ScanxConfig {
	return ScanxConfig{
		BaseURL:    getEnv("SCANX_BASE_URL", "http://localhost:8000"),
		BackendURL: getEnv("SCANX_BACKEND_URL", "http://localhost:3000"),
		APIKey:     getEnv("SCANX_API_KEY", ""),
		Timeout:    getEnvDuration("SCANX_TIMEOUT", 90*time.Second),
	}
}
