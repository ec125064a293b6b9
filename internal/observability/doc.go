// Package observability bundles the logging, metrics, and tracing stack.
//
// Every assistant turn carries one trace id from the moment the user message
// is accepted until the final assistant message is persisted. The same id is
// stamped on the turn record, each tool execution, and each usage log, so one
// grep or one trace query reconstructs the whole turn across workers.
package observability
