// Package processor answers log commands arriving on a worker connection.
//
// The processor recognizes four request types and runs each one on a shared
// worker pool so the connection's read loop never waits on disk or on a child
// process. Every accepted request produces exactly one response carrying the
// request's opaque, written back on the channel it arrived on.
//
// Commands:
//   - GET_LOG_BYTES_REQUEST   → whole file as bytes
//   - VIEW_WHOLE_LOG_REQUEST  → whole file as text, lines ended by "\r\n"
//   - ROLL_VIEW_LOG_REQUEST   → skipLineNum lines dropped, at most limit returned
//   - REMOVE_TASK_LOG_REQUEST → one shell invocation deleting every path
//
// Error handling:
//   - Missing or unreadable file → empty result, logged
//   - Shell spawn/wait failure or non-zero exit → status=false, logged
//   - Malformed body → error returned to the transport, no response written
//   - Unregistered type → panic; the transport only routes Types()
//
// Known limitations:
//   - A missing log is indistinguishable from an empty one on the wire
//   - Deletion reports one status for the whole batch
//   - No per-command deadline; a hung handler holds its pool slot
package processor
