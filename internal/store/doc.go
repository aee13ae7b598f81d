// Package store provides persistent storage for the callback gateway using SQLite.
//
// # Tables
//
//   - response_cache: completed replies keyed by deduplication key, with an
//     expiry so that a restart inside the redelivery window still serves
//     the original reply
//   - message_log: decrypted requests and generated replies, correlated
//     by request ID
//
// SQLiteStore implements Store. ResponseCache adapts it to
// dedupe.ResponseCache, and Recorder adapts the message log to
// messaging.Observer.
//
// # SQLite Configuration
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA busy_timeout=5000;
//
// Database file locations:
//
//   - Production: /var/lib/wxcallback/wxcallback.db
//   - Development: ~/.local/share/wxcallback/wxcallback.db
//   - Testing: a file under t.TempDir()
//
// # Testing
//
// Use NewMockStore() where SQLite is not the subject of the test.
package store
