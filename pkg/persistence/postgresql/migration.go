package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE definitions (
				name VARCHAR(255) PRIMARY KEY,
				description TEXT NOT NULL DEFAULT '',
				entity_type VARCHAR(255) NOT NULL,
				active BOOLEAN NOT NULL DEFAULT false,
				fact_schema JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			-- Exclusive-active invariant: at most one active definition per entity type.
			CREATE UNIQUE INDEX idx_definitions_active_entity_type
				ON definitions(entity_type) WHERE active;
			CREATE INDEX idx_definitions_entity_type ON definitions(entity_type);

			CREATE TABLE definition_steps (
				definition_name VARCHAR(255) NOT NULL REFERENCES definitions(name) ON DELETE CASCADE,
				step_order INT NOT NULL,
				name VARCHAR(255) NOT NULL,
				approver_role VARCHAR(255) NOT NULL,
				requires_approval BOOLEAN NOT NULL DEFAULT true,
				optional BOOLEAN NOT NULL DEFAULT false,
				condition_field VARCHAR(255),
				condition_expression VARCHAR(255),
				PRIMARY KEY (definition_name, step_order)
			);

			CREATE TABLE instances (
				id UUID PRIMARY KEY,
				definition_name VARCHAR(255) NOT NULL REFERENCES definitions(name),
				entity_type VARCHAR(255) NOT NULL,
				entity_id VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('PENDING', 'IN_PROGRESS', 'APPROVED', 'REJECTED', 'CANCELLED')),
				current_step INT,
				current_role VARCHAR(255),
				initiator VARCHAR(255) NOT NULL,
				facts JSONB NOT NULL DEFAULT '{}',
				steps JSONB NOT NULL,
				version BIGINT NOT NULL DEFAULT 1,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			-- Supports the "pending approvals for me" query.
			CREATE INDEX idx_instances_status_current_role ON instances(status, current_role);
			CREATE INDEX idx_instances_entity ON instances(entity_type, entity_id);
			CREATE INDEX idx_instances_created_at ON instances(created_at);

			CREATE TABLE decisions (
				instance_id UUID NOT NULL REFERENCES instances(id) ON DELETE CASCADE,
				seq INT NOT NULL,
				step_order INT NOT NULL,
				kind VARCHAR(50) NOT NULL CHECK (kind IN ('APPROVED', 'REJECTED', 'SKIPPED', 'AUTO_PASSED', 'CANCELLED')),
				actor VARCHAR(255) NOT NULL,
				comment TEXT NOT NULL DEFAULT '',
				idempotency_token VARCHAR(255),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (instance_id, seq)
			);

			CREATE INDEX idx_decisions_token ON decisions(instance_id, idempotency_token)
				WHERE idempotency_token IS NOT NULL;
		`,
	}
}
