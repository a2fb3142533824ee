package database

import "strings"

// persistentFTSSchema creates the FTS5 virtual table for full-text search
// over persistent memory content, kept in sync with triggers.
// We use content=persistent_memory so FTS stores only the index, not a
// second copy of the rows.
const persistentFTSSchema = `
CREATE VIRTUAL TABLE IF NOT EXISTS persistent_memory_fts USING fts5(
	content,
	source,
	content=persistent_memory,
	content_rowid=rowid
);
CREATE TRIGGER IF NOT EXISTS persistent_memory_fts_insert
AFTER INSERT ON persistent_memory
BEGIN
	INSERT INTO persistent_memory_fts(rowid, content, source)
	VALUES (new.rowid, new.content, new.source);
END;
CREATE TRIGGER IF NOT EXISTS persistent_memory_fts_update
AFTER UPDATE ON persistent_memory
BEGIN
	INSERT INTO persistent_memory_fts(persistent_memory_fts, rowid, content, source)
	VALUES('delete', old.rowid, old.content, old.source);
	INSERT INTO persistent_memory_fts(rowid, content, source)
	VALUES (new.rowid, new.content, new.source);
END;
CREATE TRIGGER IF NOT EXISTS persistent_memory_fts_delete
AFTER DELETE ON persistent_memory
BEGIN
	INSERT INTO persistent_memory_fts(persistent_memory_fts, rowid, content, source)
	VALUES('delete', old.rowid, old.content, old.source);
END;
`

// BuildFTSQuery turns free text into an FTS5 MATCH expression: each term is
// quoted so user punctuation cannot break the query syntax, and terms are
// ANDed together.
func BuildFTSQuery(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	quoted := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, `"`, `""`)
		quoted = append(quoted, `"`+f+`"`)
	}
	return strings.Join(quoted, " AND ")
}
