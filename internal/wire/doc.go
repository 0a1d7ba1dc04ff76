// Package wire defines the JSON frames exchanged with chat clients.
//
// Inbound frames are tagged envelopes:
//
//	{"type": "user_message", "data": {"content": "...", "session_id": "..."}, "access_token": "..."}
//
// Outbound frames are one of:
//
//	{"type": "agent_status", "data": {"message": "..."}}
//	{"type": "agent_message", "data": {"sender": "...", "recipient": "...", "message": {"content": "..."}}}
//	{"type": "agent_response", "data": {"status": true, "message": "...", "data": [...]}, "connection_id": "..."}
//
// plus an untyped error shape used for every failure reply:
//
//	{"status": false, "message": "..."}
//
// Constructors return ready-to-marshal values so callers never build frame
// maps by hand.
package wire
