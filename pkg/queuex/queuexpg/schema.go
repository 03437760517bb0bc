package queuexpg

import (
	"context"

	"github.com/partline/partline/pkg/queuex"
)

const schema = `
CREATE TABLE IF NOT EXISTS queuex_jobs (
    id               TEXT PRIMARY KEY,
    queue            TEXT NOT NULL,
    payload          JSONB NOT NULL,
    priority         INT NOT NULL DEFAULT 0,
    state            TEXT NOT NULL,
    delay_until      TIMESTAMPTZ,
    attempts_made    INT NOT NULL DEFAULT 0,
    max_attempts     INT NOT NULL,
    backoff_type     TEXT NOT NULL,
    backoff_base_ms  BIGINT NOT NULL,
    backoff_cap_ms   BIGINT NOT NULL,
    stalls           INT NOT NULL DEFAULT 0,
    seq              BIGSERIAL,
    created_at       TIMESTAMPTZ NOT NULL,
    lease_token      TEXT,
    lease_expires_at TIMESTAMPTZ,
    finished_at      TIMESTAMPTZ,
    result           JSONB,
    failure_reason   TEXT
);

CREATE INDEX IF NOT EXISTS queuex_jobs_dispatch_idx
    ON queuex_jobs (queue, state, priority DESC, seq ASC);

CREATE INDEX IF NOT EXISTS queuex_jobs_finished_idx
    ON queuex_jobs (queue, state, finished_at);

CREATE TABLE IF NOT EXISTS queuex_queues (
    name         TEXT PRIMARY KEY,
    paused       BOOLEAN NOT NULL DEFAULT FALSE,
    total_stalls BIGINT NOT NULL DEFAULT 0
);
`

// Migrate creates the job tables and indexes when they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return queuex.StoreError("migrate", err)
	}
	return nil
}
