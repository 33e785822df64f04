package postgres

const schemaSQL = `
CREATE TABLE IF NOT EXISTS unshield_burns (
	burnt_handle BYTEA PRIMARY KEY,
	chain_id BIGINT NOT NULL,
	wrapper BYTEA NOT NULL,
	account BYTEA NOT NULL,
	recipient BYTEA NOT NULL,
	unwrap_tx_hash BYTEA NOT NULL,

	state SMALLINT NOT NULL,
	finalize_tx_hash BYTEA,

	attempts INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',

	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),

	CONSTRAINT burnt_handle_len CHECK (octet_length(burnt_handle) = 32),
	CONSTRAINT wrapper_len CHECK (octet_length(wrapper) = 20),
	CONSTRAINT account_len CHECK (octet_length(account) = 20),
	CONSTRAINT recipient_len CHECK (octet_length(recipient) = 20),
	CONSTRAINT unwrap_tx_hash_len CHECK (octet_length(unwrap_tx_hash) = 32),
	CONSTRAINT chain_id_nonneg CHECK (chain_id >= 0),
	CONSTRAINT state_range CHECK (state >= 1 AND state <= 2),
	CONSTRAINT finalize_tx_hash_len CHECK (finalize_tx_hash IS NULL OR octet_length(finalize_tx_hash) = 32)
);

CREATE INDEX IF NOT EXISTS unshield_burns_state_idx ON unshield_burns (state, created_at);
CREATE INDEX IF NOT EXISTS unshield_burns_retry_idx ON unshield_burns (chain_id, account, state, created_at);
`
