package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE automations (
				id UUID PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT,
				status VARCHAR(50) NOT NULL CHECK (status IN ('draft', 'active', 'paused', 'archived')),
				definition JSONB NOT NULL,
				webhook_secret VARCHAR(255),
				runs BIGINT NOT NULL DEFAULT 0,
				successes BIGINT NOT NULL DEFAULT 0,
				failures BIGINT NOT NULL DEFAULT 0,
				rejected BIGINT NOT NULL DEFAULT 0,
				last_run_at TIMESTAMP WITH TIME ZONE,
				last_error TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				published_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_automations_status ON automations(status);

			CREATE TABLE enrollments (
				id UUID PRIMARY KEY,
				automation_id UUID NOT NULL,
				entity_id VARCHAR(255) NOT NULL,
				triggered_by VARCHAR(255),
				status VARCHAR(50) NOT NULL CHECK (status IN ('active', 'completed', 'failed', 'cancelled')),
				current_action_id VARCHAR(255),
				resume_at TIMESTAMP WITH TIME ZONE,
				snapshot JSONB,
				version BIGINT NOT NULL DEFAULT 1,
				termination_reason TEXT,
				enrolled_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_enrollments_automation_entity ON enrollments(automation_id, entity_id);
			CREATE INDEX idx_enrollments_status_resume_at ON enrollments(status, resume_at);

			CREATE TABLE run_logs (
				id UUID PRIMARY KEY,
				automation_id UUID NOT NULL,
				enrollment_id UUID NOT NULL,
				entity_id VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('running', 'completed', 'failed', 'cancelled')),
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				ended_at TIMESTAMP WITH TIME ZONE,
				outcomes JSONB NOT NULL DEFAULT '[]',
				error TEXT
			);

			CREATE INDEX idx_run_logs_automation_started ON run_logs(automation_id, started_at);
			CREATE INDEX idx_run_logs_enrollment_status ON run_logs(enrollment_id, status);
		`,
	}
}
