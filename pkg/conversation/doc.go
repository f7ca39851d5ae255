// Package conversation persists finished chat turns.
//
// Each successful run inserts two rows: the user message and the assistant
// message, linked by parent_message_id. Message ids are allocated up front
// with NextMessageID so they can be announced to the client before the run
// starts.
package conversation
