package ledger

// Schema is the DDL for the mutation ledger database.
//
// One row in runs per run, one row in mutations per side effect. The
// (account, started_at) index is what makes "last run" resolution cheap.
const Schema = `
CREATE TABLE IF NOT EXISTS runs (
    run_id          TEXT PRIMARY KEY,
    account         TEXT NOT NULL,
    started_at      TEXT NOT NULL,
    finalized_at    TEXT,
    rolled_back_at  TEXT,
    summary         TEXT
);

CREATE TABLE IF NOT EXISTS mutations (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id      TEXT NOT NULL,
    account     TEXT NOT NULL,
    message_id  TEXT,
    kind        TEXT NOT NULL,
    before      TEXT,
    after       TEXT,
    extra       TEXT,
    created_at  TEXT NOT NULL,
    FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE INDEX IF NOT EXISTS idx_runs_account ON runs(account, started_at);
CREATE INDEX IF NOT EXISTS idx_mutations_run ON mutations(run_id);
`
