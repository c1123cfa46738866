package main

import "fmt"

// CLI defines the ara command-line surface: role.*, skill.*, session.*,
// audit.*, and auth.*, per the operator surface named in the kernel's
// external interfaces.
type CLI struct {
	Config string `name:"config" short:"c" default:"ara.toml" help:"Path to ara.toml"`

	Role    RoleCmd    `cmd:"" help:"Inspect and validate role profiles"`
	Skill   SkillCmd   `cmd:"" help:"Inspect, validate, and list skills"`
	Session SessionCmd `cmd:"" help:"Start, resume, and promote sessions"`
	Audit   AuditCmd   `cmd:"" help:"Query, verify, and replay the audit log"`
	Auth    AuthCmd    `cmd:"" help:"Manage operator PIN/TOTP credentials"`
	Version VersionCmd `cmd:"" help:"Show version information"`
}

// RoleCmd groups role-profile operator commands.
type RoleCmd struct {
	Validate RoleValidateCmd `cmd:"" help:"Validate a role profile file"`
	Show     RoleShowCmd     `cmd:"" help:"Show a role profile's resolved authority and limits"`
}

// SkillCmd groups skill-subsystem operator commands.
type SkillCmd struct {
	Validate SkillValidateCmd `cmd:"" help:"Validate one skill directory"`
	List     SkillListCmd     `cmd:"" help:"Discover and list skills under a directory"`
}

// SessionCmd groups session lifecycle operator commands.
type SessionCmd struct {
	Start   SessionStartCmd   `cmd:"" help:"Decompose a goal and run a session to completion or a stop condition"`
	Resume  SessionResumeCmd  `cmd:"" help:"Resume a paused session from its latest checkpoint"`
	Promote SessionPromoteCmd `cmd:"" help:"Diff and promote a session's sandbox changes to the real workspace"`
	Undo    SessionUndoCmd    `cmd:"" help:"Undo a committed promotion"`
}

// AuditCmd groups audit log operator commands.
type AuditCmd struct {
	Verify AuditVerifyCmd `cmd:"" help:"Verify the audit log's hash chain"`
	Query  AuditQueryCmd  `cmd:"" help:"Query audit entries by session, event type, or actor"`
	Replay AuditReplayCmd `cmd:"" help:"Render a session's audit timeline for forensic review"`
}

// AuthCmd groups credential and authentication operator commands.
type AuthCmd struct {
	SetPIN    AuthSetPINCmd    `cmd:"" help:"Set the operator PIN"`
	SetupTOTP AuthSetupTOTPCmd `cmd:"" help:"Enroll a TOTP authenticator"`
}

// VersionCmd prints build information.
type VersionCmd struct{}

func (c *VersionCmd) Run(g *Globals) error {
	fmt.Println("ara version", version, "commit", commit)
	return nil
}
