package main

import (
	"fmt"

	"github.com/ara-systems/ara/internal/skills"
)

// SkillValidateCmd parses one skill directory, runs the prompt-guard and
// skill-specific scans, and reports the resulting trust level.
type SkillValidateCmd struct {
	Dir string `arg:"" help:"Skill directory containing SKILL.md"`
}

func (c *SkillValidateCmd) Run(g *Globals) error {
	s, err := skills.Parse(c.Dir)
	if err != nil {
		return err
	}
	result := skills.Scan(s)
	skills.ApplyScan(s, result)
	s.VerifyIntegrity()

	fmt.Printf("name:         %s\n", s.Name)
	fmt.Printf("trust level:  %s\n", s.TrustLevel)
	fmt.Printf("aegis approved: %v\n", s.AEGISApproved)
	if result.Blocked {
		fmt.Println("blocked by:", result.BlockedFindings)
	}
	for _, finding := range result.CriticalFindings {
		fmt.Println("critical finding:", finding)
	}
	for _, w := range s.Warnings {
		fmt.Println("warning:", w)
	}
	return nil
}

// SkillListCmd discovers every skill directory under dir and lists its
// resolved trust level and warnings.
type SkillListCmd struct {
	Dir string `arg:"" help:"Directory containing one subdirectory per skill"`
}

func (c *SkillListCmd) Run(g *Globals) error {
	found, err := skills.DiscoverAndLoad(c.Dir)
	if err != nil {
		return err
	}
	for _, s := range found {
		fmt.Printf("%-24s %-12s approved=%-5v tags=%v\n", s.Name, s.TrustLevel, s.AEGISApproved, s.Tags)
	}
	fmt.Printf("%d skill(s) found under %s\n", len(found), c.Dir)
	return nil
}
