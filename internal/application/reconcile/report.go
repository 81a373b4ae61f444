package reconcile

import (
	"fmt"
	"strings"
)

// RenderMarkdown turns a reconciliation pass into the Markdown summary the
// admin UI hands to markdown.MarkdownService for HTML rendering. One
// section per server, skipping servers with no drift at all.
func RenderMarkdown(results []Classification) string {
	var b strings.Builder
	b.WriteString("# Fleet Reconciliation Report\n\n")

	clean := 0
	for _, c := range results {
		if len(c.MissingOnServer) == 0 && len(c.MissingInLocal) == 0 && len(c.Backfilled) == 0 {
			clean++
			continue
		}
		fmt.Fprintf(&b, "## Server %d\n\n", c.ServerID)

		if len(c.MissingOnServer) > 0 {
			fmt.Fprintf(&b, "**Missing on server** (%d local keys with no remote counterpart):\n\n", len(c.MissingOnServer))
			for _, k := range c.MissingOnServer {
				fmt.Fprintf(&b, "- key `%d` (`%s`)\n", k.ID(), k.Email())
			}
			b.WriteString("\n")
		}

		if len(c.MissingInLocal) > 0 {
			fmt.Fprintf(&b, "**Missing locally** (%d remote keys with no local record):\n\n", len(c.MissingInLocal))
			for _, id := range c.MissingInLocal {
				fmt.Fprintf(&b, "- remote id/email `%s`\n", id)
			}
			b.WriteString("\n")
		}

		if len(c.Backfilled) > 0 {
			fmt.Fprintf(&b, "**Backfilled** (%d local rows recovered a remote id by email match):\n\n", len(c.Backfilled))
			for _, id := range c.Backfilled {
				fmt.Fprintf(&b, "- key `%d`\n", id)
			}
			b.WriteString("\n")
		}
	}

	if clean == len(results) {
		b.WriteString("No drift detected across the fleet.\n")
	} else if clean > 0 {
		fmt.Fprintf(&b, "%d server(s) showed no drift and are omitted above.\n", clean)
	}

	return b.String()
}
