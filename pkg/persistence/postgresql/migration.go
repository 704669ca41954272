package postgresql

// migrations returns the ordered schema migrations for the journey engine.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS workflows (
				id TEXT NOT NULL,
				version INTEGER NOT NULL,
				tenant_id TEXT NOT NULL,
				name TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL,
				trigger JSONB NOT NULL,
				entry_conditions JSONB,
				stages JSONB NOT NULL,
				triggered BIGINT NOT NULL DEFAULT 0,
				completed BIGINT NOT NULL DEFAULT 0,
				exited BIGINT NOT NULL DEFAULT 0,
				revenue DOUBLE PRECISION NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				activated_at TIMESTAMP WITH TIME ZONE,
				PRIMARY KEY (id, version)
			);

			CREATE INDEX IF NOT EXISTS idx_workflows_trigger_type
				ON workflows (tenant_id, (trigger->>'type'))
				WHERE status = 'active';
		`,
		2: `
			CREATE TABLE IF NOT EXISTS enrollments (
				id TEXT PRIMARY KEY,
				tenant_id TEXT NOT NULL,
				subject_id TEXT NOT NULL,
				workflow_id TEXT NOT NULL,
				workflow_version INTEGER NOT NULL,
				current_stage INTEGER NOT NULL DEFAULT 0,
				status TEXT NOT NULL,
				due_at TIMESTAMP WITH TIME ZONE NOT NULL,
				stage_history JSONB,
				metrics JSONB,
				failures INTEGER NOT NULL DEFAULT 0,
				pause_reason TEXT NOT NULL DEFAULT '',
				claimed_by TEXT,
				claim_expires_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE UNIQUE INDEX IF NOT EXISTS idx_enrollments_one_active
				ON enrollments (tenant_id, workflow_id, subject_id)
				WHERE status = 'active';

			CREATE INDEX IF NOT EXISTS idx_enrollments_due
				ON enrollments (due_at)
				WHERE status = 'active';
		`,
	}
}
