package mode

import (
	"regexp"
	"strings"
)

// OutputFormat names a reply post-processor.
type OutputFormat string

const (
	FormatPlain   OutputFormat = "plain"
	FormatMCQ     OutputFormat = "mcq"
	FormatEssay   OutputFormat = "essay"
	FormatBullets OutputFormat = "bullets"
)

var (
	blankRuns   = regexp.MustCompile(`\n{3,}`)
	optionLabel = regexp.MustCompile(`(?m)^[ \t]*\(?([a-dA-D])[\).:][ \t]+`)
	bulletMark  = regexp.MustCompile(`(?m)^[ \t]*(?:[*•·]|\d+[.)])[ \t]+`)
	essayHeads  = regexp.MustCompile(`(?mi)^[ \t]*(strengths|improvements|weaknesses|suggested score|score)[ \t]*:[ \t]*`)
)

// Apply formats text for display.
func (f OutputFormat) Apply(text string) string {
	out := strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))
	out = blankRuns.ReplaceAllString(out, "\n\n")
	switch f {
	case FormatMCQ:
		out = optionLabel.ReplaceAllStringFunc(out, func(m string) string {
			sub := optionLabel.FindStringSubmatch(m)
			return "(" + strings.ToUpper(sub[1]) + ") "
		})
	case FormatBullets:
		out = bulletMark.ReplaceAllString(out, "- ")
	case FormatEssay:
		out = essayHeads.ReplaceAllStringFunc(out, func(m string) string {
			sub := essayHeads.FindStringSubmatch(m)
			head := strings.ToUpper(sub[1][:1]) + strings.ToLower(sub[1][1:])
			return "### " + head + "\n"
		})
	}
	return out
}
