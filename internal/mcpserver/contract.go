package mcpserver

import (
	"strings"

	"github.com/starford/scriptorium/internal/router"
)

// DocumentContract describes how producers should hand documents over.
const DocumentContract = `# Scriptorium Document Contract

Documents are routed to a folder by filename first, content second. Name the
file after what it is, not who wrote it.

## Filenames

- Lowercase, kebab-case, ending in ` + "`.md`" + ` (e.g. ` + "`market-analysis.md`" + `).
- Well-known names (` + "`README.md`, `architecture.md`, `requirements.md`" + `) always land
  in the same folder.
- Sprint documents (` + "`sprint-NNN-*.md`" + `) land under the current sprint folder.

## Content

- Start with a level-one heading; it becomes the registry summary.
- Optional YAML frontmatter ` + "`tags`" + ` and ` + "`purpose`" + ` improve classification.
- Reference other documents with ` + "`[[key]]`" + `; these become dependencies.

## Compact form

Pass a JSON string as ` + "`compact`" + ` to ` + "`publish_document`" + `. It is stored next to the
Markdown file with a ` + "`.json`" + ` extension and measured separately.

## Registry updates

` + "`queue_update`" + ` accepts one flat JSON object with an ` + "`action`" + ` of
create, convert, update, delete or dependency, e.g.

` + "```json" + `
{"action":"create","path":"implementation/api-design.md","agent":"backend-developer"}
{"action":"convert","json_path":"implementation/api-design.json"}
{"action":"dependency","path":"implementation/api-design.md","dependencies":["requirements"]}
` + "```" + `
`

// Taxonomy renders the active routing rules as Markdown for LLM consumers.
func Taxonomy(rules *router.Rules) string {
	var b strings.Builder
	b.WriteString("# Routing Taxonomy\n\n")
	b.WriteString("| Category | Folder | Patterns | Subcategories |\n")
	b.WriteString("|---|---|---|---|\n")
	for _, c := range rules.Categories {
		subs := make([]string, 0, len(c.Subcategories))
		for _, s := range c.Subcategories {
			subs = append(subs, s.Name)
		}
		folder := c.Root()
		if c.SprintAware {
			folder = c.SprintFolder
		}
		b.WriteString("| " + c.Name + " | " + folder + " | " +
			strings.Join(c.Patterns, ", ") + " | " + strings.Join(subs, ", ") + " |\n")
	}
	if len(rules.KnownDocuments) > 0 {
		b.WriteString("\n## Known documents\n\n")
		for _, k := range rules.KnownDocuments {
			line := "- `" + k.Filename + "` → " + k.Folder
			if k.Category != "" {
				line += " (category " + k.Category + ")"
			}
			b.WriteString(line + "\n")
		}
	}
	return b.String()
}
