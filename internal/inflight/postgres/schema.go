package postgres

const schemaSQL = `
CREATE TABLE IF NOT EXISTS inflight_leases (
	conversion_key TEXT PRIMARY KEY,
	holder TEXT NOT NULL,
	acquired_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	renewed_at TIMESTAMPTZ,
	lease_until TIMESTAMPTZ NOT NULL,

	CONSTRAINT conversion_key_prefix CHECK (conversion_key LIKE 'conv:%'),
	CONSTRAINT holder_nonempty CHECK (holder <> ''),
	CONSTRAINT lease_window CHECK (lease_until > acquired_at)
);
`
