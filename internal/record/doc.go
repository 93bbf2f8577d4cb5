// Package record provides the core record types for the diary store.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import record; record imports nothing internal.
//
// Key design constraints:
//   - Event values are immutable: fields are unexported and only readable
//     through accessors. NewEvent copies its input.
//   - Payloads are stored as RFC 8785 canonical JSON objects.
//   - Free text (change reasons, annotation text) is NFC normalized before
//     it is stored or hashed.
//   - All JSON tags use snake_case.
//   - Ordering uses sequence_id only; server_timestamp is informational and
//     non-decreasing with sequence_id.
package record
