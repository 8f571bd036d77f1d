package ichat

import "strings"

// ExtractModerationText projects the user- and assistant-visible text of
// req into the single string the moderation pipeline inspects (spec.md
// §4.3 "Text projection"). Only text blocks contribute; tool-call
// arguments and tool-result outputs are never moderated, and system/tool
// role messages are excluded.
func ExtractModerationText(req *Request) string {
	var parts []string

	for _, msg := range req.Messages {
		if msg.Role != RoleUser && msg.Role != RoleAssistant {
			continue
		}

		for _, block := range msg.Content {
			if block.Type == BlockText && block.Text != "" {
				parts = append(parts, block.Text)
			}
		}
	}

	return strings.Join(parts, "\n")
}
