// ABOUTME: Translates completion event notifications into outbound wire frames
// ABOUTME: Posts frames to the owning connection without blocking the worker goroutine

package relay

import (
	"fmt"
	"log/slog"

	"github.com/2389/agency-gateway/internal/agency"
	"github.com/2389/agency-gateway/internal/wire"
)

// Sender delivers frames to the connection registered under clientID. Both
// methods must be safe for concurrent use; the registry satisfies this. Send
// is best effort and may drop under backlog; SendFinal uses the queue slots
// reserved for end-of-cycle frames.
type Sender interface {
	Send(clientID string, frame any) error
	SendFinal(clientID string, frame any) error
}

// Relay implements agency.EventSink for one completion call. Each
// notification becomes a wire frame posted to the owning connection's
// outbound queue. Posting failures are dropped silently: the worker thread
// must never learn that its client went away.
type Relay struct {
	clientID string
	sender   Sender
	logger   *slog.Logger
}

// New creates a relay bound to one client connection.
func New(clientID string, sender Sender, logger *slog.Logger) *Relay {
	return &Relay{
		clientID: clientID,
		sender:   sender,
		logger:   logger,
	}
}

// TextCreated announces that an agent started producing a text block.
func (r *Relay) TextCreated(agent, recipient string) {
	r.post(wire.AgentStatus(fmt.Sprintf("\n%s @ %s  > ", recipient, agent)))
}

// TextDelta forwards a token delta verbatim.
func (r *Relay) TextDelta(agent, recipient, delta string) {
	r.post(wire.AgentStatus(delta))
}

// TextDone forwards a completed per-agent message. The frame takes the
// must-deliver path so a backlog of deltas cannot crowd it out.
func (r *Relay) TextDone(agent, recipient, text string) {
	r.postFinal(wire.AgentMessage(recipient, agent, text))
}

// ToolCallCreated announces a tool invocation.
func (r *Relay) ToolCallCreated(agent, recipient, toolType string) {
	r.post(wire.AgentStatus(fmt.Sprintf("\n%s > %s\n", recipient, toolType)))
}

// ToolCallDelta fans a code interpreter delta out into status frames: the
// input fragment, an output marker, then one frame per log output line.
// Deltas of other tool kinds produce no frames.
func (r *Relay) ToolCallDelta(agent, recipient string, delta agency.ToolCallDelta) {
	if delta.Type != agency.ToolTypeCodeInterpreter {
		return
	}

	if delta.Input != "" {
		r.post(wire.AgentStatus(delta.Input))
	}
	if len(delta.Outputs) > 0 {
		r.post(wire.AgentStatus("\n\noutput > "))
		for _, output := range delta.Outputs {
			if output.Type == agency.ToolOutputLogs {
				r.post(wire.AgentStatus("\n" + output.Logs))
			}
		}
	}
}

// StreamEnd carries no frame; completion is signalled by the worker
// returning, which the session loop awaits.
func (r *Relay) StreamEnd() {}

// post hands a frame to the connection's writer. A missing or closed
// connection means the client disconnected mid-stream; the notification is
// dropped so the completion call runs to its natural end.
func (r *Relay) post(frame any) {
	if err := r.sender.Send(r.clientID, frame); err != nil {
		r.logger.Debug("dropping event for gone connection",
			"client_id", r.clientID,
			"error", err,
		)
	}
}

func (r *Relay) postFinal(frame any) {
	if err := r.sender.SendFinal(r.clientID, frame); err != nil {
		r.logger.Debug("dropping event for gone connection",
			"client_id", r.clientID,
			"error", err,
		)
	}
}
