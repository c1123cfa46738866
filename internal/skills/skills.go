// Package skills implements the Skill packaging, validation, and
// context-injection subsystem: self-describing directories containing a
// SKILL.md (frontmatter + instruction body) and optional supporting files.
package skills

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ara-systems/ara/internal/arerr"
	"github.com/ara-systems/ara/internal/pathconfine"
)

// TrustLevel is a closed enumeration.
type TrustLevel string

const (
	TrustVerified   TrustLevel = "verified"
	TrustTrusted    TrustLevel = "trusted"
	TrustUnreviewed TrustLevel = "unreviewed"
	TrustBlocked    TrustLevel = "blocked"
)

// Source is a closed enumeration.
type Source string

const (
	SourceBundled Source = "bundled"
	SourceCustom  Source = "custom"
	SourceImported Source = "imported"
)

const (
	maxInstructionBytes = 50 * 1024
	maxInstructionTokens = 4000
	maxSupportingFiles  = 20
	maxSupportingFileBytes = 1 << 20
	maxTotalSupportingBytes = 10 << 20
	maxTags = 20
)

var nameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,62}[a-z0-9]$|^[a-z0-9]$`)

var blockedExtensions = map[string]bool{
	".exe": true, ".dll": true, ".ps1": true, ".bat": true, ".cmd": true,
	".sh": true, ".com": true, ".msi": true, ".scr": true, ".vbs": true,
}

var allowlistedExtensions = map[string]bool{
	".md": true, ".txt": true, ".json": true, ".yaml": true, ".yml": true,
	".csv": true, ".py": true, ".js": true, ".ts": true, ".go": true,
}

// Frontmatter is the parsed SKILL.md header.
type Frontmatter struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Version     string   `yaml:"version"`
	Author      string   `yaml:"author,omitempty"`
	Tags        []string `yaml:"tags,omitempty"`
	Source      Source   `yaml:"source,omitempty"`
	TrustLevel  TrustLevel `yaml:"trust_level,omitempty"`
}

// Skill is a fully loaded, validated skill package.
type Skill struct {
	Frontmatter
	Body            string
	SupportingFiles []string // relative paths, inventoried and confinement-checked
	IntegrityHash   string   // SHA-256 of body + sorted supporting-file contents
	AEGISApproved   bool
	Warnings        []string

	Dir string
}

// Parse reads a skill directory's SKILL.md and inventories its supporting
// files, enforcing every resource limit in the resource-ceilings table.
func Parse(dir string) (*Skill, error) {
	skillPath := filepath.Join(dir, "SKILL.md")
	raw, err := os.ReadFile(skillPath)
	if err != nil {
		return nil, arerr.Wrap(arerr.KindNotFound, "cannot read SKILL.md", err)
	}
	if len(raw) > maxInstructionBytes {
		return nil, arerr.New(arerr.KindSkillInvalid, "SKILL.md exceeds 50 KB raw limit")
	}

	fm, body, err := splitFrontmatter(string(raw))
	if err != nil {
		return nil, arerr.Wrap(arerr.KindSkillInvalid, "malformed frontmatter", err)
	}

	var front Frontmatter
	if err := yaml.Unmarshal([]byte(fm), &front); err != nil {
		return nil, arerr.Wrap(arerr.KindSkillInvalid, "invalid frontmatter", err)
	}
	if err := validateName(front.Name); err != nil {
		return nil, err
	}
	if front.Description == "" {
		return nil, arerr.New(arerr.KindSkillInvalid, "missing description")
	}
	if len(front.Tags) > maxTags {
		return nil, arerr.New(arerr.KindSkillInvalid, "too many tags (max 20)")
	}
	if estimateTokens(body) > maxInstructionTokens {
		return nil, arerr.New(arerr.KindSkillInvalid, "instruction body exceeds 4000 injected tokens")
	}

	s := &Skill{Frontmatter: front, Body: strings.TrimSpace(body), Dir: dir}

	supporting, warnings, err := inventorySupportingFiles(dir)
	if err != nil {
		return nil, err
	}
	s.SupportingFiles = supporting
	s.Warnings = warnings

	s.IntegrityHash = computeIntegrityHash(s.Body, dir, supporting)

	switch front.Source {
	case SourceBundled, "":
		if front.Source == SourceBundled {
			s.TrustLevel = TrustVerified
			s.AEGISApproved = true
		}
	}

	return s, nil
}

func validateName(name string) error {
	if !nameRe.MatchString(name) {
		return arerr.New(arerr.KindSkillInvalid, "skill name must match [a-z0-9][a-z0-9-]{0,62}[a-z0-9] with no consecutive hyphens")
	}
	if strings.Contains(name, "--") {
		return arerr.New(arerr.KindSkillInvalid, "skill name cannot contain consecutive hyphens")
	}
	if reservedDeviceName(name) {
		return arerr.New(arerr.KindSkillInvalid, "skill name is a reserved device name")
	}
	return nil
}

func reservedDeviceName(name string) bool {
	switch strings.ToLower(name) {
	case "con", "nul", "prn", "aux":
		return true
	}
	return false
}

// estimateTokens approximates token count at ~4 bytes/token, adequate for
// the resource-ceiling check without depending on a tokenizer.
func estimateTokens(body string) int {
	return len(body) / 4
}

func splitFrontmatter(content string) (frontmatter, body string, err error) {
	lines := strings.Split(content, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return "", "", fmt.Errorf("missing frontmatter delimiter")
	}
	var fmLines []string
	bodyStart := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			bodyStart = i + 1
			break
		}
		fmLines = append(fmLines, lines[i])
	}
	if bodyStart < 0 {
		return "", "", fmt.Errorf("unclosed frontmatter")
	}
	frontmatter = strings.Join(fmLines, "\n")
	if bodyStart < len(lines) {
		body = strings.Join(lines[bodyStart:], "\n")
	}
	return frontmatter, body, nil
}

// inventorySupportingFiles walks dir (excluding SKILL.md), rejecting
// symlinks and path-traversal, and enforcing count/size ceilings.
func inventorySupportingFiles(dir string) ([]string, []string, error) {
	var files []string
	var warnings []string
	var total int64

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == dir {
			return nil
		}
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			return relErr
		}
		if rel == "SKILL.md" {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return arerr.New(arerr.KindSkillInvalid, "symlinks are not permitted in skill directories: "+rel)
		}
		if d.IsDir() {
			return nil
		}
		if _, err := pathconfine.Confine(rel, dir); err != nil {
			return err
		}
		if info.Size() > maxSupportingFileBytes {
			return arerr.New(arerr.KindSkillInvalid, "supporting file exceeds 1 MB: "+rel)
		}
		total += info.Size()
		if total > maxTotalSupportingBytes {
			return arerr.New(arerr.KindSkillInvalid, "supporting files exceed 10 MB total")
		}

		ext := strings.ToLower(filepath.Ext(rel))
		if blockedExtensions[ext] {
			return arerr.New(arerr.KindSkillInvalid, "blocklisted supporting file extension: "+rel)
		}
		if !allowlistedExtensions[ext] {
			warnings = append(warnings, "supporting file has non-allowlisted extension: "+rel)
		}

		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if len(files) > maxSupportingFiles {
		return nil, nil, arerr.New(arerr.KindSkillInvalid, "too many supporting files (max 20)")
	}
	sort.Strings(files)
	return files, warnings, nil
}

// computeIntegrityHash hashes the body plus sorted supporting-file
// contents.
func computeIntegrityHash(body, dir string, supporting []string) string {
	h := sha256.New()
	h.Write([]byte(body))
	for _, rel := range supporting {
		data, err := os.ReadFile(filepath.Join(dir, rel))
		if err != nil {
			continue
		}
		h.Write([]byte(rel))
		h.Write(data)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyIntegrity recomputes the hash and compares to the recorded one,
// demoting the skill to not-approved on mismatch.
func (s *Skill) VerifyIntegrity() bool {
	current := computeIntegrityHash(s.Body, s.Dir, s.SupportingFiles)
	if current != s.IntegrityHash {
		s.AEGISApproved = false
		s.Warnings = append(s.Warnings, "integrity hash mismatch: skill demoted to not-approved")
		return false
	}
	return true
}
