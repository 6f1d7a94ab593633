package ai

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// AgentConfig describes the persona and limits of the analyst. Values are copied, never shared.
type AgentConfig struct {
	Role      string
	Goal      string // template over PromptVars
	Backstory string
	Tools     []string
	// MaxIter caps the number of model calls spent on one job.
	MaxIter int
	// MaxRPM caps model calls per minute across every worker sharing the throttle. Zero disables it.
	MaxRPM          int
	AllowDelegation bool
}

// TaskConfig describes the single task the analyst performs.
type TaskConfig struct {
	Description    string // template over PromptVars
	ExpectedOutput string
}

// PromptVars are the values substituted into goal and description templates.
type PromptVars struct {
	Query    string
	FilePath string
}

const ReadDocumentTool = "Read Financial Document"

func DefaultAgent() AgentConfig {
	return AgentConfig{
		Role: "Senior Financial Analyst",
		Goal: "Provide accurate, structured, and evidence-based financial analysis " +
			"strictly based on the uploaded financial document and the user query: {{.Query}}.",
		Backstory: "You are a CFA-certified financial analyst with over 15 years of experience " +
			"in corporate finance, equity research, and investment strategy. " +
			"You specialize in analyzing annual reports, quarterly earnings, " +
			"balance sheets, income statements, and cash flow statements. " +
			"You never fabricate data and only use verified information from the document.",
		Tools:           []string{ReadDocumentTool},
		MaxIter:         3,
		MaxRPM:          5,
		AllowDelegation: false,
	}
}

func DefaultTask() TaskConfig {
	return TaskConfig{
		Description: `Analyze the provided financial document located at {{.FilePath}}.
Use the content of the document to answer the user's query: {{.Query}}.

Perform:
- Executive summary of financial performance
- Revenue and profitability insights
- Key financial ratios (if available)
- Growth trends
- Significant highlights or concerns

Only use verified information from the document.
Do NOT fabricate data, URLs, or assumptions.`,
		ExpectedOutput: `Provide a structured financial analysis report including:

1. Executive Summary
2. Financial Performance Overview
3. Key Financial Metrics
4. Growth & Profitability Analysis
5. Risk Factors Identified
6. Investment Outlook (based strictly on document data)

Ensure clarity, professionalism, and factual accuracy.`,
	}
}

const systemTmpl = `You are a {{.Agent.Role}}.
{{.Agent.Backstory}}

Your goal: {{.Goal}}
{{- if .Agent.Tools}}

The output of these tools has already been gathered for you: {{join .Agent.Tools ", "}}.
{{- end}}`

const reportTmpl = `{{.Description}}

Expected output:
{{.Task.ExpectedOutput}}

{{if .Notes -}}
Evidence notes extracted from the document, in page order:
{{range $i, $n := .Notes}}
--- Part {{inc $i}} ---
{{$n}}
{{end}}
{{- else -}}
Document content:
{{.Document}}
{{- end}}`

const notesTmpl = `{{.Description}}

The document is too long to read at once. This is part {{.Part}} of {{.Parts}}.
Extract every figure, ratio, trend, risk and statement from this part that is relevant to the task.
Quote numbers exactly. Do not write the final report yet.

Document part:
{{.Document}}`

var funcs = template.FuncMap{
	"join": strings.Join,
	"inc": func(i int) int { return i + 1 },
}

var (
	systemT = template.Must(template.New("system").Funcs(funcs).Parse(systemTmpl))
	reportT = template.Must(template.New("report").Funcs(funcs).Parse(reportTmpl))
	notesT  = template.Must(template.New("notes").Funcs(funcs).Parse(notesTmpl))
)

// prompts holds the rendered, job-specific text shared by every call of one analysis.
type prompts struct {
	System      string
	Description string
	Task        TaskConfig
}

func renderPrompts(agent AgentConfig, task TaskConfig, vars PromptVars) (prompts, error) {
	goal, err := render("goal", agent.Goal, vars)
	if err != nil {
		return prompts{}, err
	}
	desc, err := render("description", task.Description, vars)
	if err != nil {
		return prompts{}, err
	}

	var sys bytes.Buffer
	if err := systemT.Execute(&sys, struct {
		Agent AgentConfig
		Goal  string
	}{agent, goal}); err != nil {
		return prompts{}, fmt.Errorf("render system prompt: %w", err)
	}
	return prompts{System: sys.String(), Description: desc, Task: task}, nil
}

func render(name, text string, vars PromptVars) (string, error) {
	t, err := template.New(name).Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse %s template: %w", name, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("render %s template: %w", name, err)
	}
	return buf.String(), nil
}

func (p prompts) report(document string, notes []string) (string, error) {
	var buf bytes.Buffer
	err := reportT.Execute(&buf, struct {
		Description string
		Task        TaskConfig
		Document    string
		Notes       []string
	}{p.Description, p.Task, document, notes})
	if err != nil {
		return "", fmt.Errorf("render report prompt: %w", err)
	}
	return buf.String(), nil
}

func (p prompts) notes(chunk string, part, parts int) (string, error) {
	var buf bytes.Buffer
	err := notesT.Execute(&buf, struct {
		Description string
		Document    string
		Part, Parts int
	}{p.Description, chunk, part, parts})
	if err != nil {
		return "", fmt.Errorf("render notes prompt: %w", err)
	}
	return buf.String(), nil
}
