package engine

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"surveyflow/internal/models"
)

// pollDecorators are glyphs surveys append to poll options for visual flair.
// They are stripped before answers are compared or persisted.
var pollDecorators = []string{"⚡", "⏱️", "⏰", "😊", "🙈", "🎁", "🎉"}

var (
	dashVariants   = strings.NewReplacer("–", "-", "—", "-", "‒", "-", "―", "-")
	whitespaceRuns = regexp.MustCompile(`\s+`)
	placeholderRe  = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)
)

// CleanText normalizes free-text answers: dash variants become "-",
// whitespace runs collapse to single spaces, edges are trimmed. The
// operation is idempotent.
func CleanText(s string) string {
	s = dashVariants.Replace(s)
	s = whitespaceRuns.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// cleanPollOption strips decorator glyphs and trims one option label.
func cleanPollOption(s string) string {
	for _, d := range pollDecorators {
		s = strings.ReplaceAll(s, d, "")
	}
	return strings.TrimSpace(s)
}

// CleanPollSelections normalizes raw poll selections: each raw value is
// split on ", " (multi-select platforms join options into one string),
// stripped of decorators, and mapped back to the question's canonical option
// label where one matches. Unmatched cleaned values are kept as-is.
func CleanPollSelections(raw []string, question *models.Question) []string {
	canonical := make(map[string]string, len(question.Options))
	for _, opt := range question.Options {
		canonical[cleanPollOption(opt)] = cleanPollOption(opt)
	}

	var out []string
	for _, r := range raw {
		for _, part := range strings.Split(r, ", ") {
			cleaned := cleanPollOption(part)
			if cleaned == "" {
				continue
			}
			if c, ok := canonical[cleaned]; ok {
				cleaned = c
			}
			out = append(out, cleaned)
		}
	}
	return out
}

// fileTypeClasses maps allowed-type class names to MIME prefixes or exact
// MIME types.
var fileTypeClasses = map[string][]string{
	"image":    {"image/"},
	"video":    {"video/"},
	"audio":    {"audio/"},
	"document": {"application/pdf", "application/msword", "application/vnd.openxmlformats-officedocument", "text/plain"},
}

// friendlyTypeNames is the wording used in invalid-type replies.
var friendlyTypeNames = map[string]string{
	"image":    "images",
	"video":    "videos",
	"audio":    "audio files",
	"document": "documents (PDF or Word)",
	"any":      "any file",
}

// mimeAllowed reports whether a MIME type falls into one of the allowed
// classes. An empty class list or the class "any" accepts everything.
func mimeAllowed(mime string, classes []string) bool {
	if len(classes) == 0 {
		return true
	}
	for _, class := range classes {
		if class == "any" {
			return true
		}
		for _, prefix := range fileTypeClasses[class] {
			if strings.HasPrefix(mime, prefix) {
				return true
			}
		}
	}
	return false
}

// friendlyTypes renders the allowed classes for user-facing messages.
func friendlyTypes(classes []string) string {
	if len(classes) == 0 {
		return "any file"
	}
	names := make([]string, 0, len(classes))
	for _, class := range classes {
		if name, ok := friendlyTypeNames[class]; ok {
			names = append(names, name)
		} else {
			names = append(names, class)
		}
	}
	return strings.Join(names, " or ")
}

// substitutePlaceholders replaces {{field}} references in a message with
// values from the session's record. Unresolvable references are left
// untouched; a record read failure falls back to the raw message.
func (e *Engine) substitutePlaceholders(ctx context.Context, state *models.SessionState, text string) string {
	if !placeholderRe.MatchString(text) || state.RecordID == "" {
		return text
	}
	fields, err := e.records.GetRecord(ctx, state.Survey.Storage.Table, state.RecordID)
	if err != nil {
		return text
	}
	return placeholderRe.ReplaceAllStringFunc(text, func(match string) string {
		key := placeholderRe.FindStringSubmatch(match)[1]
		if v, ok := fields[key]; ok {
			return fmt.Sprintf("%v", v)
		}
		if v, ok := state.Answers[key]; ok {
			return fmt.Sprintf("%v", v)
		}
		return match
	})
}
