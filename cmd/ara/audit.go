package main

import (
	"fmt"

	"github.com/ara-systems/ara/internal/audit"
	"github.com/ara-systems/ara/internal/auditreplay"
	"github.com/ara-systems/ara/internal/credentials"
)

func openAuditLog(g *Globals) (*audit.Log, error) {
	store, err := buildCredentialStore(g)
	if err != nil {
		return nil, err
	}
	key, err := credentials.LoadOrCreateAuditHMACKey(store)
	if err != nil {
		return nil, err
	}
	return audit.Open(g.Config.Storage.Path+"/audit/log.jsonl", key)
}

// AuditVerifyCmd walks the audit log's hash chain end to end and reports
// the first break, if any.
type AuditVerifyCmd struct{}

func (c *AuditVerifyCmd) Run(g *Globals) error {
	log, err := openAuditLog(g)
	if err != nil {
		return err
	}
	valid, checked, err := log.VerifyChain()
	fmt.Println(auditreplay.RenderVerification(valid, checked, err))
	if !valid {
		return fmt.Errorf("audit chain broken after %d verified entries", checked)
	}
	return nil
}

// AuditQueryCmd filters audit entries by session, event type, or actor
// using the SQLite cross-session index.
type AuditQueryCmd struct {
	Session   string `help:"Session ID filter"`
	EventType string `help:"Event type filter"`
	Actor     string `help:"Actor filter (operator, agent, gate)"`
}

func (c *AuditQueryCmd) Run(g *Globals) error {
	idx, err := audit.OpenIndex(g.Config.Storage.Path + "/audit/index.db")
	if err != nil {
		return err
	}
	defer idx.Close()

	entries, err := idx.QueryFiltered(c.Session, c.EventType, c.Actor)
	if err != nil {
		return err
	}
	fmt.Println(auditreplay.Render(entries))
	stats := auditreplay.ComputeStats(entries)
	fmt.Println(stats.Summary())
	return nil
}

// AuditReplayCmd renders one session's full audit timeline in
// chronological, color-coded order for forensic review.
type AuditReplayCmd struct {
	Session string `arg:"" help:"Session ID to replay"`
}

func (c *AuditReplayCmd) Run(g *Globals) error {
	log, err := openAuditLog(g)
	if err != nil {
		return err
	}
	entries, err := log.Query(c.Session)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("no audit entries found for session %s", c.Session)
	}
	fmt.Println(auditreplay.Render(entries))
	fmt.Println(auditreplay.ComputeStats(entries).Summary())
	return nil
}
