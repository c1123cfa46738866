package skills

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/ara-systems/ara/internal/roleprofile"
)

// Library holds loaded skills and group membership, copy-on-read per the
// concurrency model (edits require an exclusive lock during re-scan,
// enforced by the caller that owns the Library).
type Library struct {
	byName  map[string]*Skill
	groups  map[string][]string // group name -> skill names
}

// NewLibrary builds an empty library.
func NewLibrary() *Library {
	return &Library{byName: map[string]*Skill{}, groups: map[string][]string{}}
}

// Add registers a loaded skill.
func (l *Library) Add(s *Skill) { l.byName[s.Name] = s }

// SetGroup defines (or replaces) a named skill group's membership.
func (l *Library) SetGroup(group string, skillNames []string) { l.groups[group] = skillNames }

// DiscoverAndLoad walks every directory under dir looking for SKILL.md,
// parsing and scanning each, and returns the resulting skills (invalid
// ones are skipped, matching the teacher's lenient-discovery behavior).
func DiscoverAndLoad(dir string) ([]*Skill, error) {
	entries, err := filepath.Glob(filepath.Join(dir, "*"))
	if err != nil {
		return nil, err
	}
	var out []*Skill
	for _, e := range entries {
		skillMD := filepath.Join(e, "SKILL.md")
		if _, statErr := os.Stat(skillMD); statErr != nil {
			continue
		}
		s, err := Parse(e)
		if err != nil {
			continue
		}
		result := Scan(s)
		ApplyScan(s, result)
		s.VerifyIntegrity()
		out = append(out, s)
	}
	return out, nil
}

// Resolve returns the ordered list of skills reachable by role, via
// assigned groups first, then individually assigned skills, deduplicated,
// with only aegis_approved skills included.
func (l *Library) Resolve(role *roleprofile.RoleProfile) []*Skill {
	seen := map[string]bool{}
	var out []*Skill

	appendIfApproved := func(name string) {
		if seen[name] {
			return
		}
		s, ok := l.byName[name]
		if !ok || !s.AEGISApproved {
			return
		}
		seen[name] = true
		out = append(out, s)
	}

	for _, group := range role.AssignedSkillGroups {
		for _, name := range l.groups[group] {
			appendIfApproved(name)
		}
	}
	for _, name := range role.AssignedSkills {
		appendIfApproved(name)
	}

	return out
}

// Select scores each resolved skill against taskText and returns the
// highest-scoring skill whose score is >= 2, or nil if none qualifies.
func Select(resolved []*Skill, taskText string) *Skill {
	lowered := strings.ToLower(taskText)

	var best *Skill
	bestScore := 0
	for _, s := range resolved {
		score := 0
		for _, word := range strings.Fields(strings.ToLower(s.Description)) {
			if len(word) > 3 && strings.Contains(lowered, word) {
				score++
			}
		}
		// Tag overlap
		for _, tag := range s.Tags {
			if strings.Contains(lowered, strings.ToLower(tag)) {
				score += 2
			}
		}
		// Name substring in task text
		if strings.Contains(lowered, strings.ToLower(s.Name)) {
			score += 5
		}
		if score > bestScore {
			bestScore = score
			best = s
		}
	}
	if bestScore >= 2 {
		return best
	}
	return nil
}
