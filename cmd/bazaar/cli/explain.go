package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bazaar-market/bazaar-admin/internal/authz"
)

// Exit codes returned by ExplainCommand.
const (
	ExitOK       = 0
	ExitUsage    = 1
	ExitDenied   = 10
	ExitDegraded = 11
)

// AuthzCLI runs discovery outside of a request to explain a principal's grants.
type AuthzCLI struct {
	discoverer *authz.Discoverer
}

// NewAuthzCLI constructs the helper.
func NewAuthzCLI(d *authz.Discoverer) (*AuthzCLI, error) {
	if d == nil {
		return nil, errors.New("authz cli: discoverer required")
	}
	return &AuthzCLI{discoverer: d}, nil
}

// ExplainOptions defines the flags of the explain command.
type ExplainOptions struct {
	PrincipalID int64
	// Check is an optional permission expression such as "products:edit|vendors:edit".
	Check      string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// ExplainSummary is the JSON output of explain.
type ExplainSummary struct {
	PrincipalID int64           `json:"principal_id"`
	Snapshot    *authz.Snapshot `json:"snapshot"`
	Degraded    bool            `json:"degraded"`
	Check       string          `json:"check,omitempty"`
	Allowed     *bool           `json:"allowed,omitempty"`
}

// ExplainCommand prints the snapshot discovery produces for a principal.
func (c *AuthzCLI) ExplainCommand(ctx context.Context, opts ExplainOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.PrincipalID <= 0 {
		_, _ = fmt.Fprintln(opts.Stderr, "authz explain: --user is required and must be positive")
		return ExitUsage
	}

	snap := c.discoverer.Discover(ctx, opts.PrincipalID)
	summary := ExplainSummary{PrincipalID: opts.PrincipalID, Snapshot: snap, Degraded: snap.Degraded()}
	if check := strings.TrimSpace(opts.Check); check != "" {
		expr := authz.ParseExpression(check)
		allowed := authz.Evaluate(snap, expr)
		summary.Check = expr.String()
		summary.Allowed = &allowed
	}

	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "authz explain: encode json: %v\n", err)
			return ExitUsage
		}
	} else {
		renderExplainHuman(opts.Stdout, summary)
	}

	switch {
	case summary.Degraded:
		return ExitDegraded
	case summary.Allowed != nil && !*summary.Allowed:
		return ExitDenied
	}
	return ExitOK
}

func renderExplainHuman(out io.Writer, s ExplainSummary) {
	snap := s.Snapshot
	_, _ = fmt.Fprintf(out, "Principal %d\n", s.PrincipalID)
	if s.Degraded {
		_, _ = fmt.Fprintln(out, "Discovery degraded: permissions could not be resolved in time.")
	}
	strategy := snap.Strategy()
	if strategy == "" {
		strategy = "none"
	}
	_, _ = fmt.Fprintf(out, "Strategy: %s\n", strategy)
	_, _ = fmt.Fprintf(out, "Superadmin: %t\n", snap.IsSuperadmin())
	if roles := snap.Roles(); len(roles) > 0 {
		_, _ = fmt.Fprintf(out, "Roles: %s\n", strings.Join(roles, ", "))
	}
	perms := snap.Permissions()
	if len(perms) == 0 {
		_, _ = fmt.Fprintln(out, "No permissions granted.")
	} else {
		_, _ = fmt.Fprintf(out, "%d permission(s):\n", len(perms))
		for _, p := range perms {
			_, _ = fmt.Fprintf(out, " - %s\n", p)
		}
	}
	if s.Allowed != nil {
		verdict := "denied"
		if *s.Allowed {
			verdict = "allowed"
		}
		_, _ = fmt.Fprintf(out, "Check %s: %s\n", s.Check, verdict)
	}
}
