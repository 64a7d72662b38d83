// Package prompts bundles the summarization prompt text as a compiled
// artifact: any change to these files is effectively a schema change for
// summarizer output and should be versioned alongside the binary.
package prompts

import (
	_ "embed"
	"strings"
	"time"
)

//go:embed text/system.txt
var systemTemplate string

//go:embed text/chunk_of_many.txt
var chunkOfManyTemplate string

//go:embed text/full_transcript_single_shot.txt
var fullTranscriptSingleShotTemplate string

//go:embed text/combine.txt
var combineTemplate string

//go:embed text/timestamps.txt
var timestampsTemplate string

// Role names the fixed prompt role a call plays, matching the LLM call
// parameters (temperature, max tokens) fixed per role.
type Role int

const (
	RoleSystem Role = iota
	RoleChunkOfMany
	RoleFullTranscriptSingleShot
	RoleCombine
	RoleTimestamps
)

func template(role Role) string {
	switch role {
	case RoleSystem:
		return systemTemplate
	case RoleChunkOfMany:
		return chunkOfManyTemplate
	case RoleFullTranscriptSingleShot:
		return fullTranscriptSingleShotTemplate
	case RoleCombine:
		return combineTemplate
	case RoleTimestamps:
		return timestampsTemplate
	default:
		return ""
	}
}

// dateFormat matches the footer/title date style used across the bundled
// templates: "Tue 24 Jun 2025".
const dateFormat = "Mon 2 Jan 2006"

// Render substitutes ${{TITLE}} and ${{DATE}} in the named role's bundled
// template. date is formatted in loc before substitution.
func Render(role Role, title string, at time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	replacer := strings.NewReplacer(
		"${{TITLE}}", title,
		"${{DATE}}", at.In(loc).Format(dateFormat),
	)
	return replacer.Replace(template(role))
}
