// ABOUTME: Loads agency definitions from a TOML seed file into the store
// ABOUTME: Run once at startup; existing definitions with the same ID are replaced

package agency

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/2389/agency-gateway/internal/store"
)

// seedFile is the top-level shape of an agencies.toml file:
//
//	[[agency]]
//	id = "research"
//	name = "Research Crew"
//	main_agent = "Lead"
//	required_variables = ["OPENAI_API_KEY"]
//
//	  [[agency.agents]]
//	  name = "Lead"
//	  instructions = "You coordinate the crew."
//
//	  [[agency.flows]]
//	  sender = "Lead"
//	  recipient = "Analyst"
type seedFile struct {
	Agencies []store.Agency `toml:"agency"`
}

// SeedFromFile loads agency definitions from path and upserts them into the
// store. Definitions must name a main agent that appears in their agent list.
func SeedFromFile(ctx context.Context, path string, s store.Store, logger *slog.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading agency seed file: %w", err)
	}

	var seed seedFile
	if err := toml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("parsing agency seed file: %w", err)
	}

	for i := range seed.Agencies {
		def := &seed.Agencies[i]
		if err := validateDefinition(def); err != nil {
			return fmt.Errorf("agency %q: %w", def.ID, err)
		}
		if err := s.PutAgency(ctx, def); err != nil {
			return fmt.Errorf("storing agency %q: %w", def.ID, err)
		}
		logger.Info("seeded agency",
			"agency_id", def.ID,
			"name", def.Name,
			"agents", len(def.Agents),
		)
	}
	return nil
}

// validateDefinition checks the structural invariants of a definition.
func validateDefinition(def *store.Agency) error {
	if def.ID == "" {
		return fmt.Errorf("missing id")
	}
	if def.MainAgent == "" {
		return fmt.Errorf("missing main_agent")
	}
	if len(def.Agents) == 0 {
		return fmt.Errorf("no agents defined")
	}

	names := make(map[string]bool, len(def.Agents))
	for _, agent := range def.Agents {
		if agent.Name == "" {
			return fmt.Errorf("agent with empty name")
		}
		if names[agent.Name] {
			return fmt.Errorf("duplicate agent %q", agent.Name)
		}
		names[agent.Name] = true
	}

	if !names[def.MainAgent] {
		return fmt.Errorf("main_agent %q is not in the agent list", def.MainAgent)
	}
	for _, flow := range def.Flows {
		if !names[flow.Sender] || !names[flow.Recipient] {
			return fmt.Errorf("flow %s->%s references unknown agent", flow.Sender, flow.Recipient)
		}
	}
	return nil
}
