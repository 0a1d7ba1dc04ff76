// Package agency resolves chat sessions to live conversation handles and
// runs completion calls against the upstream runtime.
//
// # Resolution
//
// The Manager is the session resolver. For each inbound user message it:
//
//  1. Loads the session and verifies the caller owns it (ErrSessionNotFound)
//  2. Loads the agency definition (ErrAgencyNotFound)
//  3. Checks every required variable is set for the user (UnsetVariableError)
//  4. Mints missing thread identifiers and persists them
//  5. Returns a freshly built conversation handle snapshot
//
// Lookup failures are recoverable per message; an UnsetVariableError is a
// configuration problem and ends the session loop.
//
// # Completion
//
// Agency.RunCompletion is the blocking completion call. The session loop runs
// it on a worker goroutine and awaits the result; incremental notifications
// flow to the EventSink as they are produced. How the upstream coordinates
// its agents is its own business; the gateway only consumes the event stream
// and the completed messages.
//
// # Definitions
//
// Agency definitions are seeded from a TOML file at startup (SeedFromFile)
// and stored as documents. There is no authoring API.
package agency
