package sqlite

import "database/sql"

// migrations contains the SQL statements to set up the database schema.
// These run on startup to ensure tables exist.
const schema = `
CREATE TABLE IF NOT EXISTS donors (
    id TEXT PRIMARY KEY,
    email TEXT NOT NULL UNIQUE,
    display_name TEXT NOT NULL,
    password_hash TEXT NOT NULL,
    admin INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS allocations (
    id TEXT PRIMARY KEY,
    epoch INTEGER NOT NULL,
    donor_id TEXT NOT NULL,
    beneficiary TEXT NOT NULL,
    votes INTEGER NOT NULL,
    assets INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    FOREIGN KEY (donor_id) REFERENCES donors(id)
);

CREATE TABLE IF NOT EXISTS epochs (
    number INTEGER PRIMARY KEY,
    started_at INTEGER NOT NULL,
    finalized_at INTEGER NOT NULL,
    duration_seconds INTEGER NOT NULL,
    total_assets INTEGER NOT NULL,
    distributed INTEGER NOT NULL,
    pending INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS distributions (
    id TEXT PRIMARY KEY,
    epoch INTEGER NOT NULL,
    beneficiary TEXT NOT NULL,
    total_votes INTEGER NOT NULL,
    total_assets INTEGER NOT NULL,
    user_count INTEGER NOT NULL,
    settled INTEGER NOT NULL,
    reason TEXT,
    created_at INTEGER NOT NULL,
    UNIQUE (epoch, beneficiary),
    FOREIGN KEY (epoch) REFERENCES epochs(number)
);

CREATE INDEX IF NOT EXISTS idx_allocations_epoch_donor ON allocations(epoch, donor_id);
CREATE INDEX IF NOT EXISTS idx_allocations_beneficiary ON allocations(beneficiary);
CREATE INDEX IF NOT EXISTS idx_distributions_epoch ON distributions(epoch);
`

// runMigrations executes the schema setup.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
