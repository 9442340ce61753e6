package store

const sampleSchema = `
CREATE TABLE IF NOT EXISTS view_samples (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    entity_id   TEXT NOT NULL,
    age_days    INTEGER NOT NULL,
    value       INTEGER NOT NULL,
    observed_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_samples_age ON view_samples(age_days);
CREATE INDEX IF NOT EXISTS idx_samples_entity_age ON view_samples(entity_id, age_days);
`
