package litellm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Strob0t/QueryWarden/internal/domain"
	"github.com/Strob0t/QueryWarden/internal/domain/pgsession"
	"github.com/Strob0t/QueryWarden/internal/port/reasoning"
)

var _ reasoning.Reasoner = (*Client)(nil)

const classifyPrompt = `You triage support tickets about a PostgreSQL database.
Answer with exactly one word:
simple  - the ticket is about one slow, stuck or long-running query or a named backend pid
complex - anything that needs investigation across several sessions, locks or data
Do not explain.`

const decidePrompt = `You resolve PostgreSQL session problems step by step.
You receive a ticket and the evidence gathered so far. Reply with one JSON object:
{"decision": "inspect" | "terminate" | "escalate" | "no_action",
 "pid": <backend pid, required for terminate, optional for inspect>,
 "query": "<optional for inspect: text the wanted query contains, such as a table name>",
 "resolution": "<one sentence describing what was done or should be done>",
 "reason": "<why>"}
Use inspect to see active sessions, one pid, or the sessions whose query
contains the given text. Only terminate a backend you
have inspected. Escalate when a human must decide.`

// Classify asks for a route tag. The raw answer is returned; callers parse it.
func (c *Client) Classify(ctx context.Context, ticket string) (string, error) {
	out, err := c.complete(ctx, classifyPrompt, ticket, false)
	if err != nil {
		return "", fmt.Errorf("classify ticket: %w: %w", domain.ErrReasoning, err)
	}
	return strings.TrimSpace(out), nil
}

// Decide asks for the next move given the evidence so far.
func (c *Client) Decide(ctx context.Context, ticket string, evidence []reasoning.Step) (*reasoning.Decision, error) {
	out, err := c.complete(ctx, decidePrompt, decideInput(ticket, evidence), true)
	if err != nil {
		return nil, fmt.Errorf("decide: %w: %w", domain.ErrReasoning, err)
	}
	d, err := parseDecision(out)
	if err != nil {
		return nil, fmt.Errorf("decide: %w: %w", domain.ErrReasoning, err)
	}
	return d, nil
}

func decideInput(ticket string, evidence []reasoning.Step) string {
	var b strings.Builder
	b.WriteString("Ticket:\n")
	b.WriteString(ticket)
	b.WriteString("\n\nEvidence:\n")
	if len(evidence) == 0 {
		b.WriteString("(none yet)\n")
	}
	for i, s := range evidence {
		fmt.Fprintf(&b, "%d. %s\n%s\n", i+1, s.Action, s.Observation)
	}
	return b.String()
}

// parseDecision accepts a bare JSON object or one wrapped in a markdown fence.
func parseDecision(raw string) (*reasoning.Decision, error) {
	s := strings.TrimSpace(raw)
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return nil, fmt.Errorf("no JSON object in reply %q", pgsession.Truncate(s, 120))
	}

	var d reasoning.Decision
	if err := json.Unmarshal([]byte(s[start:end+1]), &d); err != nil {
		return nil, fmt.Errorf("parse decision: %w", err)
	}
	d.Kind = strings.ToLower(strings.TrimSpace(d.Kind))
	d.Query = strings.TrimSpace(d.Query)

	switch d.Kind {
	case reasoning.DecisionInspect, reasoning.DecisionEscalate, reasoning.DecisionNoAction:
	case reasoning.DecisionTerminate:
		if d.PID <= 0 {
			return nil, fmt.Errorf("terminate decision without pid")
		}
	default:
		return nil, fmt.Errorf("unknown decision %q", d.Kind)
	}
	return &d, nil
}
