package skills

import (
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Candidate is a skill extracted from a markdown answer: python source
// with a run(message) entry point, plus a library name.
type Candidate struct {
	Name   string
	Source string
	Entry  string
}

var (
	nameDirectiveRe = regexp.MustCompile(`(?m)^#\s*skill:\s*([a-z0-9][a-z0-9_-]*)\s*$`)
	entryRe         = regexp.MustCompile(`(?m)^def\s+run\s*\(`)
	slugRe          = regexp.MustCompile(`[^a-z0-9]+`)
)

// Extract pulls the first python fenced code block with a run entry
// out of a markdown answer. The skill name comes from a "# skill:"
// directive in the source, else from the answer's first heading.
func Extract(answer string) (*Candidate, bool) {
	src := []byte(answer)
	md := goldmark.New()
	doc := md.Parser().Parse(text.NewReader(src))

	var heading, source string
	ast.Walk(doc, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n := node.(type) {
		case *ast.Heading:
			if heading == "" {
				heading = string(n.Lines().Value(src))
			}
		case *ast.FencedCodeBlock:
			if source != "" {
				return ast.WalkContinue, nil
			}
			lang := string(n.Language(src))
			if lang != "python" && lang != "py" && lang != "" {
				return ast.WalkContinue, nil
			}
			var b strings.Builder
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				line := lines.At(i)
				b.Write(line.Value(src))
			}
			if entryRe.MatchString(b.String()) {
				source = b.String()
			}
		}
		return ast.WalkContinue, nil
	})

	if source == "" {
		return nil, false
	}

	name := ""
	if m := nameDirectiveRe.FindStringSubmatch(source); m != nil {
		name = m[1]
	} else if heading != "" {
		name = slugify(heading)
	}
	if name == "" {
		name = "unnamed-skill"
	}

	return &Candidate{Name: name, Source: source, Entry: "run"}, true
}

func slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = slugRe.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > 64 {
		s = s[:64]
	}
	return s
}
