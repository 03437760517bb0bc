package config

import "time"

// QueuexConfig configures the background job core.
type QueuexConfig struct {
	// Store selects the job store backend: redis, postgres or memory.
	Store string

	EmailConcurrency       int
	ScanConcurrency        int
	MaintenanceConcurrency int

	PollInterval    time.Duration
	ReclaimInterval time.Duration
	LeaseTimeout    time.Duration
	JobTimeout      time.Duration

	MetricsInterval time.Duration
	HealthInterval  time.Duration
	CleanupInterval time.Duration
	ShutdownTimeout time.Duration

	CompletedRetention time.Duration
	FailedRetention    time.Duration
}

func loadQueuexConfig() QueuexConfig {
	return QueuexConfig{
		Store: getEnv("QUEUE_STORE", "redis"),

		EmailConcurrency:       getEnvInt("QUEUE_EMAIL_CONCURRENCY", 10),
		ScanConcurrency:        getEnvInt("QUEUE_SCAN_CONCURRENCY", 5),
		MaintenanceConcurrency: getEnvInt("QUEUE_MAINTENANCE_CONCURRENCY", 3),

		PollInterval:    getEnvDuration("QUEUE_POLL_INTERVAL", time.Second),
		ReclaimInterval: getEnvDuration("QUEUE_RECLAIM_INTERVAL", 5*time.Second),
		LeaseTimeout:    getEnvDuration("QUEUE_LEASE_TIMEOUT", 3*time.Minute),
		JobTimeout:      getEnvDuration("QUEUE_JOB_TIMEOUT", 2*time.Minute),

		MetricsInterval: getEnvDuration("QUEUE_METRICS_INTERVAL", time.Minute),
		HealthInterval:  getEnvDuration("QUEUE_HEALTH_INTERVAL", 30*time.Second),
		CleanupInterval: getEnvDuration("QUEUE_CLEANUP_INTERVAL", time.Hour),
		ShutdownTimeout: getEnvDuration("QUEUE_SHUTDOWN_TIMEOUT", 30*time.Second),

		CompletedRetention: getEnvDuration("QUEUE_COMPLETED_RETENTION", 24*time.Hour),
		FailedRetention:    getEnvDuration("QUEUE_FAILED_RETENTION", 7*24*time.Hour),
	}
}
