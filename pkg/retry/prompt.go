package retry

import (
	"strings"
	"text/template"

	"github.com/forgecore/engine/pkg/job"
	"github.com/forgecore/engine/pkg/learner"
)

// promptTemplate mirrors the teacher's OrchestratorValidationAgent
// template-replacement convention (text/template over a flat string map),
// generalized from "validate these results" to "generate code for this
// task given everything known so far" (spec.md §4.2 step d).
const promptTemplate = `You are generating code for the following task.

Task: {{.Task}}
Language: {{.Language}}
{{if .ScaffoldSection}}
Scaffold:
{{.ScaffoldSection}}
{{end}}
{{if .ExistingFilesSection}}
Existing files (modify in place, or add new ones):
{{.ExistingFilesSection}}
{{end}}
{{if .Guidance}}
Thinking guidance:
{{.Guidance}}
{{end}}
{{if .RisksSection}}
Risks to watch for:
{{.RisksSection}}
{{end}}
{{if .EmphasizeSection}}
Patterns that have worked well so far, prefer reusing them: {{.EmphasizeSection}}
{{end}}
{{if .AvoidSection}}
Patterns that have caused problems, avoid them: {{.AvoidSection}}
{{end}}
{{if .Simplify}}
{{.Simplify}}
{{end}}
{{if .UnresolvedIssuesSection}}
Unresolved issues from the previous attempt, fix these:
{{.UnresolvedIssuesSection}}
{{end}}

Respond with a JSON object of the shape {"files":[{"path":"...","content":"...","change_type":"add|modify|delete"}]} and nothing else.`

var promptTmpl = template.Must(template.New("generation").Parse(promptTemplate))

// promptInput is the flat, all-string struct the prompt template is executed
// against, the struct counterpart of the teacher's
// template.Execute(&buf, map[string]string) convention.
type promptInput struct {
	Task                    string
	Language                string
	ScaffoldSection         string
	ExistingFilesSection    string
	Guidance                string
	RisksSection            string
	EmphasizeSection        string
	AvoidSection            string
	Simplify                string
	UnresolvedIssuesSection string
}

// buildPrompt assembles the full generation prompt per spec.md §4.2 step d:
// task + language + scaffold manifest (key files inline, others listed) +
// existing files + thinking guidance/risks + learner hints + unresolved
// issues from the most recent attempt.
func buildPrompt(j *job.Job, genCtx job.GenerationContext, thinkingGuidance string, risks []string, hints learner.Hints, unresolvedIssues []job.Issue) (string, error) {
	input := promptInput{
		Task:     j.Task,
		Language: j.Language,
		Guidance: thinkingGuidance,
	}

	if genCtx.ScaffoldManifest != nil {
		input.ScaffoldSection = formatScaffold(genCtx.ScaffoldManifest)
	}
	if len(genCtx.ExistingFiles) > 0 {
		input.ExistingFilesSection = formatExistingFiles(genCtx.ExistingFiles)
	}
	if len(risks) > 0 {
		input.RisksSection = strings.Join(risks, "; ")
	}
	if len(hints.Emphasize) > 0 {
		input.EmphasizeSection = strings.Join(hints.Emphasize, ", ")
	}
	if len(hints.Avoid) > 0 {
		input.AvoidSection = strings.Join(hints.Avoid, ", ")
	}
	input.Simplify = hints.Simplify
	if len(unresolvedIssues) > 0 {
		input.UnresolvedIssuesSection = formatIssues(unresolvedIssues)
	}

	var out strings.Builder
	if err := promptTmpl.Execute(&out, input); err != nil {
		return "", err
	}
	return out.String(), nil
}

func formatScaffold(m *job.ScaffoldManifest) string {
	var b strings.Builder
	b.WriteString("Project type: " + m.ProjectType + "\n")
	for _, f := range m.Files {
		if f.IsKey {
			b.WriteString("--- " + f.Path + " (key file, inline) ---\n" + f.Content + "\n")
		} else {
			b.WriteString("- " + f.Path + " (scaffolded, override by regenerating at this path)\n")
		}
	}
	return b.String()
}

func formatExistingFiles(files map[string]job.FileChange) string {
	var b strings.Builder
	for path, fc := range files {
		b.WriteString("--- " + path + " ---\n" + fc.Content + "\n\n")
	}
	return b.String()
}

func formatIssues(issues []job.Issue) string {
	var b strings.Builder
	for _, iss := range issues {
		b.WriteString("- [" + string(iss.Severity) + "] " + iss.Kind + ": " + iss.Message)
		if iss.FilePath != "" {
			b.WriteString(" (" + iss.FilePath + ")")
		}
		b.WriteString("\n")
	}
	return b.String()
}
