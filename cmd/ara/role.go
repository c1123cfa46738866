package main

import (
	"fmt"

	"github.com/ara-systems/ara/internal/roleprofile"
)

// RoleValidateCmd parses and validates a role profile, reporting the
// same disjointness and authority errors roleprofile.Load enforces.
type RoleValidateCmd struct {
	File string `arg:"" help:"Role profile YAML file"`
}

func (c *RoleValidateCmd) Run(g *Globals) error {
	if _, err := roleprofile.LoadFile(c.File); err != nil {
		return err
	}
	fmt.Println("valid:", c.File)
	return nil
}

// RoleShowCmd prints a role profile's resolved authority sets and
// resource ceilings after hardcoded-block subtraction.
type RoleShowCmd struct {
	File string `arg:"" help:"Role profile YAML file"`
}

func (c *RoleShowCmd) Run(g *Globals) error {
	rp, err := roleprofile.LoadFile(c.File)
	if err != nil {
		return err
	}
	fmt.Printf("name:            %s\n", rp.Name)
	fmt.Printf("description:     %s\n", rp.Description)
	fmt.Printf("competencies:    %v\n", rp.SortedCompetencies())
	fmt.Printf("autonomous:      %v\n", rp.AuthorityAutonomous)
	fmt.Printf("requires_approval: %v\n", rp.AuthorityRequiresApproval)
	fmt.Printf("forbidden:       %v\n", rp.AuthorityForbidden)
	fmt.Printf("confidence:      auto=%.2f flag=%.2f pause=%.2f\n",
		rp.ConfidenceThresholds.AutoExecute, rp.ConfidenceThresholds.ExecuteAndFlag, rp.ConfidenceThresholds.PauseAndAsk)
	fmt.Printf("write limits:    per_file=%dB per_session=%dB max_files=%d\n",
		rp.WriteLimits.PerFileBytes, rp.WriteLimits.PerSessionBytes, rp.WriteLimits.MaxFiles)
	fmt.Printf("auth method:     %s\n", rp.AuthMethod)
	fmt.Printf("max session:     %.1fh, max cost: %.2f\n", rp.MaxSessionHours, rp.MaxCostPerSession)
	return nil
}
