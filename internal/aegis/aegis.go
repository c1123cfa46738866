// Package aegis implements the AEGIS Gate: four sequential checks every
// pending write must pass before promotion — secret scan, write limits,
// role scope, and authentication. Any failure blocks fail-closed; every
// check, pass or fail, is recorded to the audit log with actor=gate.
package aegis

import (
	"github.com/vinayprograms/agentkit/logging"

	"github.com/ara-systems/ara/internal/audit"
	"github.com/ara-systems/ara/internal/credentials"
	"github.com/ara-systems/ara/internal/roleprofile"
	"github.com/ara-systems/ara/internal/secretscan"
	"github.com/ara-systems/ara/internal/task"
)

// BlockKind identifies which of the four checks refused the request.
type BlockKind string

const (
	BlockSecrets BlockKind = "secrets"
	BlockLimits  BlockKind = "limits"
	BlockScope   BlockKind = "scope"
	BlockAuth    BlockKind = "auth"
)

// Decision is the gate's verdict.
type Decision struct {
	Approved bool
	Kind     BlockKind
	Reason   string // redacted; never includes raw secret material
}

// PendingChange describes one file the gate is being asked to approve
// promotion of, together with the task that produced it.
type PendingChange struct {
	Path       string
	Bytes      []byte
	ActionType task.ActionType
}

// Gate runs the four sequential checks against one session's pending
// promotion.
type Gate struct {
	role          *roleprofile.RoleProfile
	auditLog      *audit.Log
	authenticator *credentials.Authenticator
	allowlist     secretscan.Allowlist
	logger        *logging.Logger
}

// New creates a gate bound to a role's limits/authority and the
// process-wide audit log and authenticator.
func New(role *roleprofile.RoleProfile, auditLog *audit.Log, authenticator *credentials.Authenticator, allowlist secretscan.Allowlist) *Gate {
	return &Gate{role: role, auditLog: auditLog, authenticator: authenticator, allowlist: allowlist, logger: logging.New().WithComponent("aegis")}
}

// Evaluate runs all four checks in order, stopping at the first
// failure. credential is the PIN/TOTP/backup code supplied for the
// authentication check; pass "" when role.AuthMethod is none.
func (g *Gate) Evaluate(sessionID string, changes []PendingChange, approvedTasks map[string]bool, credential string) Decision {
	decision := g.checkSecrets(changes)
	if decision.Approved {
		decision = g.checkWriteLimits(changes)
	}
	if decision.Approved {
		decision = g.checkRoleScope(changes, approvedTasks)
	}
	if decision.Approved {
		decision = g.checkAuthentication(credential)
	}

	details := map[string]interface{}{"approved": decision.Approved}
	if !decision.Approved {
		details["kind"] = string(decision.Kind)
		details["reason"] = decision.Reason
	}
	if g.auditLog != nil {
		g.auditLog.Append(sessionID, "aegis_gate_evaluated", audit.ActorGate, details)
	}
	if decision.Approved {
		g.logger.Info("gate approved", map[string]interface{}{"session_id": sessionID, "changes": len(changes)})
	} else {
		g.logger.Warn("gate blocked", map[string]interface{}{"session_id": sessionID, "kind": string(decision.Kind), "reason": decision.Reason})
	}
	return decision
}

func (g *Gate) checkSecrets(changes []PendingChange) Decision {
	for _, c := range changes {
		findings := secretscan.Scan(c.Path, c.Bytes, g.allowlist)
		if secretscan.Blocking(findings) {
			return Decision{Approved: false, Kind: BlockSecrets, Reason: "secret scan found a non-allowlisted match in " + c.Path}
		}
	}
	return Decision{Approved: true}
}

func (g *Gate) checkWriteLimits(changes []PendingChange) Decision {
	limits := g.role.WriteLimits
	var total int64
	fileCount := 0
	seen := map[string]bool{}
	for _, c := range changes {
		if int64(len(c.Bytes)) > limits.PerFileBytes {
			return Decision{Approved: false, Kind: BlockLimits, Reason: "file exceeds per-file write limit: " + c.Path}
		}
		total += int64(len(c.Bytes))
		if !seen[c.Path] {
			seen[c.Path] = true
			fileCount++
		}
	}
	if total > limits.PerSessionBytes {
		return Decision{Approved: false, Kind: BlockLimits, Reason: "total write bytes exceed per-session limit"}
	}
	if fileCount > limits.MaxFiles {
		return Decision{Approved: false, Kind: BlockLimits, Reason: "file count exceeds per-session limit"}
	}
	return Decision{Approved: true}
}

// checkRoleScope requires every pending change to correspond to a task
// whose action is either autonomous under the role, or has a recorded
// operator approval (approvedTasks keyed by task id).
func (g *Gate) checkRoleScope(changes []PendingChange, approvedTasks map[string]bool) Decision {
	for _, c := range changes {
		authz := g.role.IsActionAllowed(string(c.ActionType))
		if authz == roleprofile.Autonomous {
			continue
		}
		if authz == roleprofile.RequiresApproval && approvedTasks[c.Path] {
			continue
		}
		return Decision{Approved: false, Kind: BlockScope, Reason: "change to " + c.Path + " exceeds role authority without recorded approval"}
	}
	return Decision{Approved: true}
}

func (g *Gate) checkAuthentication(credential string) Decision {
	if g.role.AuthMethod == roleprofile.AuthNone {
		return Decision{Approved: true}
	}
	if g.authenticator == nil {
		return Decision{Approved: false, Kind: BlockAuth, Reason: "no authenticator configured for role requiring authentication"}
	}

	var err error
	switch g.role.AuthMethod {
	case roleprofile.AuthPIN:
		err = g.authenticator.VerifyPIN(credential)
	case roleprofile.AuthTOTP:
		err = g.authenticator.VerifyTOTP(credential)
	}
	if err != nil {
		return Decision{Approved: false, Kind: BlockAuth, Reason: "authentication failed"}
	}
	return Decision{Approved: true}
}
