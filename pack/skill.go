package pack

import (
	"fmt"
	"strings"
)

// SkillFile is the skill descriptor's filename inside a pack.
const SkillFile = "skill.md"

// triggerHints maps pack-name fragments to the extra trigger keywords a
// consumer can match against incoming questions.
var triggerHints = map[string][]string{
	"physics":   {"quantum", "relativity", "mechanics", "particle"},
	"history":   {"war", "empire", "revolution", "ancient"},
	"biology":   {"cell", "evolution", "genetics", "organism"},
	"chemistry": {"molecule", "reaction", "element", "compound"},
	"math":      {"theorem", "proof", "equation", "geometry"},
	"computer":  {"algorithm", "programming", "software", "computation"},
	"medicine":  {"disease", "treatment", "diagnosis", "anatomy"},
	"astronomy": {"planet", "star", "galaxy", "telescope"},
	"economics": {"market", "trade", "inflation", "finance"},
	"music":     {"composer", "symphony", "instrument", "melody"},
}

// TriggerKeywords derives trigger terms from a pack name: the name's
// own words plus topical hints for recognized fragments
// ("physics-expert" also triggers on "quantum", "relativity", ...).
func TriggerKeywords(name string) []string {
	norm := strings.ToLower(strings.ReplaceAll(name, "_", "-"))

	seen := make(map[string]bool)
	var triggers []string
	add := func(kw string) {
		if kw != "" && kw != "expert" && kw != "pack" && !seen[kw] {
			seen[kw] = true
			triggers = append(triggers, kw)
		}
	}

	for _, part := range strings.Split(norm, "-") {
		add(part)
	}
	for fragment, hints := range triggerHints {
		if strings.Contains(norm, fragment) {
			for _, h := range hints {
				add(h)
			}
		}
	}
	return triggers
}

// GenerateSkill renders the skill.md descriptor for a manifest:
// frontmatter with name, version, description and triggers, followed by
// a short usage body.
func GenerateSkill(m *Manifest) string {
	triggers := TriggerKeywords(m.Name)

	var b strings.Builder
	b.WriteString("---\n")
	fmt.Fprintf(&b, "name: %s\n", m.Name)
	fmt.Fprintf(&b, "version: %s\n", m.Version)
	fmt.Fprintf(&b, "description: %s\n", m.Description)
	fmt.Fprintf(&b, "triggers: [%s]\n", strings.Join(triggers, ", "))
	b.WriteString("---\n\n")

	fmt.Fprintf(&b, "# %s\n\n", m.Name)
	fmt.Fprintf(&b, "%s\n\n", m.Description)
	fmt.Fprintf(&b, "This pack contains %d articles, %d entities and %d relationships.\n",
		m.GraphStats.Articles, m.GraphStats.Entities, m.GraphStats.Relationships)
	if len(m.Topics) > 0 {
		fmt.Fprintf(&b, "\nTopics: %s\n", strings.Join(m.Topics, ", "))
	}
	b.WriteString("\nUse it when a question matches one of the trigger keywords above.\n")
	return b.String()
}
