package config

// Config aggregates the per-concern configuration of the worker process.
type Config struct {
	App      AppConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Queuex   QueuexConfig
	Notifx   NotifxConfig
	Scanx    ScanxConfig
}

// AppConfig holds process-level settings.
type AppConfig struct {
	Name     string
	Env      string
	OpsAddr  string
	LogLevel string
}

// Load reads the full configuration from the environment.
func Load() *Config {
	return &Config{
		App:      loadAppConfig(),
		Database: loadDatabaseConfig(),
		Redis:    loadRedisConfig(),
		Queuex:   loadQueuexConfig(),
		Notifx:   loadNotifxConfig(),
		Scanx:    loadScanxConfig(),
	}
}

func loadAppConfig() AppConfig {
	return AppConfig{
		Name:     getEnv("APP_NAME", "partline-worker"),
		Env:      getEnv("APP_ENV", "development"),
		OpsAddr:  getEnv("OPS_ADDR", ":8090"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}
