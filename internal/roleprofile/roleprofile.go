// Package roleprofile implements the Role Profile schema and authority
// model: a validated description of an autonomous identity.
package roleprofile

import (
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/ara-systems/ara/internal/arerr"
)

// RiskTolerance is a closed enumeration.
type RiskTolerance string

const (
	RiskLow    RiskTolerance = "low"
	RiskMedium RiskTolerance = "medium"
	RiskHigh   RiskTolerance = "high"
)

// AuthMethod is a closed enumeration.
type AuthMethod string

const (
	AuthPIN  AuthMethod = "pin"
	AuthTOTP AuthMethod = "totp"
	AuthNone AuthMethod = "none"
)

// Authorization is the result of an authority query.
type Authorization string

const (
	Autonomous       Authorization = "autonomous"
	RequiresApproval Authorization = "requires_approval"
	Forbidden        Authorization = "forbidden"
	Unknown          Authorization = "unknown"
)

// ConfidenceThresholds gates the confidence-based commit decision in the
// Task Executor.
type ConfidenceThresholds struct {
	AutoExecute     float64 `yaml:"auto_execute"`
	ExecuteAndFlag  float64 `yaml:"execute_and_flag"`
	PauseAndAsk     float64 `yaml:"pause_and_ask"`
}

func defaultThresholds() ConfidenceThresholds {
	return ConfidenceThresholds{AutoExecute: 0.90, ExecuteAndFlag: 0.70, PauseAndAsk: 0.50}
}

// WriteLimits bounds resource consumption enforced by the Write Tracker
// and the AEGIS Gate's write-limits check.
type WriteLimits struct {
	PerFileBytes    int64 `yaml:"per_file_bytes"`
	PerSessionBytes int64 `yaml:"per_session_bytes"`
	MaxFiles        int   `yaml:"max_files"`
}

func defaultWriteLimits() WriteLimits {
	return WriteLimits{PerFileBytes: 1 << 20, PerSessionBytes: 50 << 20, MaxFiles: 500}
}

// RoleProfile is a named description of autonomous identity. It is an
// immutable value object once loaded; edits require current-auth
// verification and reload.
type RoleProfile struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Scope       string   `yaml:"scope"`
	Competencies []string `yaml:"competencies"`

	AuthorityAutonomous       []string `yaml:"authority_autonomous"`
	AuthorityRequiresApproval []string `yaml:"authority_requires_approval"`
	AuthorityForbidden        []string `yaml:"authority_forbidden"`

	ConfidenceThresholds ConfidenceThresholds `yaml:"confidence_thresholds"`
	RiskTolerance        RiskTolerance        `yaml:"risk_tolerance"`

	MaxSessionHours    float64     `yaml:"max_session_hours"`
	MaxCostPerSession  float64     `yaml:"max_cost_per_session"`
	WriteLimits        WriteLimits `yaml:"write_limits"`

	AuthMethod AuthMethod `yaml:"auth_method"`

	AssignedSkills      []string `yaml:"assigned_skills"`
	AssignedSkillGroups []string `yaml:"assigned_skill_groups"`
	SuccessCriteria     []string `yaml:"success_criteria"`
}

// hardcodedBlocked is the set of actions no role, configuration, or
// skill may ever permit, per the external-interfaces contract.
var hardcodedBlocked = []string{
	"delete_repository", "force_push", "modify_ci_pipeline",
	"access_credentials_store", "disable_aegis", "modify_aegis_rules",
	"execute_as_root", "access_host_filesystem",
}

// Load parses raw YAML bytes into a RoleProfile, applies threshold
// defaults, and enforces every load-time invariant.
func Load(data []byte) (*RoleProfile, error) {
	rp := &RoleProfile{ConfidenceThresholds: defaultThresholds(), WriteLimits: defaultWriteLimits()}
	if err := yaml.Unmarshal(data, rp); err != nil {
		return nil, arerr.Wrap(arerr.KindInternal, "failed to parse role profile", err)
	}

	if rp.ConfidenceThresholds == (ConfidenceThresholds{}) {
		rp.ConfidenceThresholds = defaultThresholds()
	}
	if rp.WriteLimits == (WriteLimits{}) {
		rp.WriteLimits = defaultWriteLimits()
	}
	if rp.MaxSessionHours == 0 {
		rp.MaxSessionHours = 8
	}
	if rp.MaxCostPerSession == 0 {
		rp.MaxCostPerSession = 5
	}

	subtractBlocked(rp)

	if err := validate(rp); err != nil {
		return nil, err
	}

	return rp, nil
}

// LoadFile reads and loads a role profile from disk.
func LoadFile(path string) (*RoleProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, arerr.Wrap(arerr.KindNotFound, "cannot read role profile", err)
	}
	return Load(data)
}

func subtractBlocked(rp *RoleProfile) {
	rp.AuthorityAutonomous = subtract(rp.AuthorityAutonomous, hardcodedBlocked)
	rp.AuthorityRequiresApproval = subtract(rp.AuthorityRequiresApproval, hardcodedBlocked)
	// Forbidden retains the blocked set; it is already excluded elsewhere.
}

func subtract(set, remove []string) []string {
	removeSet := make(map[string]bool, len(remove))
	for _, r := range remove {
		removeSet[r] = true
	}
	out := make([]string, 0, len(set))
	for _, s := range set {
		if !removeSet[s] {
			out = append(out, s)
		}
	}
	return out
}

func validate(rp *RoleProfile) error {
	if rp.Name == "" {
		return arerr.New(arerr.KindInternal, "role profile name must not be empty")
	}
	if rp.Description == "" {
		return arerr.New(arerr.KindInternal, "role profile description must not be empty")
	}
	if len(rp.Competencies) == 0 {
		return arerr.New(arerr.KindInternal, "role profile must declare at least one competency")
	}
	if len(rp.AuthorityAutonomous) == 0 {
		return arerr.New(arerr.KindInternal, "role profile must declare at least one autonomous action")
	}

	autoSet := toSet(rp.AuthorityAutonomous)
	approvalSet := toSet(rp.AuthorityRequiresApproval)
	forbiddenSet := toSet(rp.AuthorityForbidden)

	if intersects(autoSet, approvalSet) || intersects(autoSet, forbiddenSet) || intersects(approvalSet, forbiddenSet) {
		return arerr.New(arerr.KindRoleAmbiguous, "authority sets must be disjoint (RoleAuthorityOverlap)")
	}

	t := rp.ConfidenceThresholds
	if !(t.AutoExecute >= t.ExecuteAndFlag && t.ExecuteAndFlag >= t.PauseAndAsk) {
		return arerr.New(arerr.KindInternal, "confidence thresholds must satisfy auto_execute >= execute_and_flag >= pause_and_ask")
	}
	for _, v := range []float64{t.AutoExecute, t.ExecuteAndFlag, t.PauseAndAsk} {
		if v < 0 || v > 1 {
			return arerr.New(arerr.KindInternal, "confidence thresholds must be in [0,1]")
		}
	}

	if rp.AuthMethod == "" {
		rp.AuthMethod = AuthPIN
	}

	return nil
}

func toSet(items []string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, i := range items {
		m[i] = true
	}
	return m
}

func intersects(a, b map[string]bool) bool {
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	for k := range small {
		if large[k] {
			return true
		}
	}
	return false
}

// IsActionAllowed classifies action against the role's authority sets.
// Unknown labels default to RequiresApproval.
func (rp *RoleProfile) IsActionAllowed(action string) Authorization {
	for _, a := range rp.AuthorityForbidden {
		if a == action {
			return Forbidden
		}
	}
	for _, a := range hardcodedBlocked {
		if a == action {
			return Forbidden
		}
	}
	for _, a := range rp.AuthorityAutonomous {
		if a == action {
			return Autonomous
		}
	}
	for _, a := range rp.AuthorityRequiresApproval {
		if a == action {
			return RequiresApproval
		}
	}
	return RequiresApproval // unknown actions default to requires_approval
}

// SortedCompetencies returns competencies in stable sorted order, used by
// `role.show` for deterministic display.
func (rp *RoleProfile) SortedCompetencies() []string {
	out := append([]string(nil), rp.Competencies...)
	sort.Strings(out)
	return out
}
