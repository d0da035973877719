// Package audit persists a record of every sign request the agent answered.
//
// The store is SQLite (modernc.org/sqlite, no cgo) in WAL mode. Records are
// append-only and listed newest first:
//
//	st, err := audit.NewSQLiteStore("~/.local/state/secret-agent/audit.db")
//	st.RecordSign(ctx, &audit.SignRecord{Fingerprint: fp, Outcome: audit.OutcomeSigned})
//	recent, err := st.ListSigns(ctx, audit.Filter{Limit: 20})
//
// ListSigns caps Limit at 1000 and defaults it to 100.
package audit
