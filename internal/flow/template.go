package flow

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/nikolalohinski/gonja"
	"github.com/nikolalohinski/gonja/config"
	"github.com/nikolalohinski/gonja/nodes"
	"github.com/nikolalohinski/gonja/parser"

	"github.com/ahrav/go-flowevals/internal/llm/transport"
)

var (
	jinjaEnvOnce sync.Once
	jinjaEnv     *gonja.Environment
	jinjaEnvErr  error
)

// Statements that would let a template reach outside its own source.
var disabledStatements = []string{"include", "extends", "import", "from"}

// getJinjaEnv returns the shared environment with file-loading statements disabled.
func getJinjaEnv() (*gonja.Environment, error) {
	jinjaEnvOnce.Do(func() {
		env := gonja.NewEnvironment(config.DefaultConfig, gonja.DefaultLoader)
		for _, name := range disabledStatements {
			if !env.Statements.Exists(name) {
				continue
			}
			keyword := name
			err := env.Statements.Replace(keyword, func(*parser.Parser, *parser.Parser) (nodes.Statement, error) {
				return nil, fmt.Errorf("keyword[%s] has been disabled", keyword)
			})
			if err != nil {
				jinjaEnvErr = fmt.Errorf("init jinja env: %w", err)
				return
			}
		}
		jinjaEnv = env
	})
	return jinjaEnv, jinjaEnvErr
}

// renderFunc executes a compiled template.
type renderFunc func(vars map[string]any) (string, error)

// compileTemplate parses a jinja2 source once so syntax errors surface at load time.
func compileTemplate(source string) (renderFunc, error) {
	env, err := getJinjaEnv()
	if err != nil {
		return nil, err
	}
	tpl, err := env.FromString(source)
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	return func(vars map[string]any) (string, error) {
		out, err := tpl.Execute(vars)
		if err != nil {
			return "", fmt.Errorf("render template: %w", err)
		}
		return out, nil
	}, nil
}

// Render renders a jinja2 template source with vars.
func Render(source string, vars map[string]any) (string, error) {
	render, err := compileTemplate(source)
	if err != nil {
		return "", err
	}
	return render(vars)
}

var roleMarker = regexp.MustCompile(`(?im)^[ \t]*#?[ \t]*(system|user|assistant)[ \t]*:[ \t]*$`)

// ParseChat splits a rendered chat prompt on role marker lines such as
// "system:" and "user:". A prompt with no marker is a single user message.
// Text before the first marker is kept as a user message when non-blank.
func ParseChat(prompt string) []transport.Message {
	locs := roleMarker.FindAllStringSubmatchIndex(prompt, -1)
	if len(locs) == 0 {
		return []transport.Message{{Role: transport.RoleUser, Content: strings.TrimSpace(prompt)}}
	}

	var msgs []transport.Message
	if lead := strings.TrimSpace(prompt[:locs[0][0]]); lead != "" {
		msgs = append(msgs, transport.Message{Role: transport.RoleUser, Content: lead})
	}
	for i, loc := range locs {
		role := transport.Role(strings.ToLower(prompt[loc[2]:loc[3]]))
		end := len(prompt)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		content := strings.TrimSpace(prompt[loc[1]:end])
		if content == "" {
			continue
		}
		msgs = append(msgs, transport.Message{Role: role, Content: content})
	}
	return msgs
}

var (
	printExpr    = regexp.MustCompile(`\{\{-?\s*([A-Za-z_][A-Za-z0-9_]*)`)
	controlExpr  = regexp.MustCompile(`\{%-?\s*(?:if|elif)\s+(?:not\s+)?([A-Za-z_][A-Za-z0-9_]*)`)
	forExpr      = regexp.MustCompile(`\{%-?\s*for\s+([A-Za-z_][A-Za-z0-9_]*)(?:\s*,\s*([A-Za-z_][A-Za-z0-9_]*))?\s+in\s+([A-Za-z_][A-Za-z0-9_]*)`)
	jinjaBuiltin = map[string]bool{
		"loop": true, "true": true, "false": true, "none": true,
		"True": true, "False": true, "None": true, "range": true,
	}
)

// TemplateVariables lists the top-level variables a jinja2 template reads,
// sorted and without duplicates. Loop variables are excluded.
func TemplateVariables(source string) []string {
	local := make(map[string]bool)
	found := make(map[string]bool)

	for _, m := range forExpr.FindAllStringSubmatch(source, -1) {
		local[m[1]] = true
		if m[2] != "" {
			local[m[2]] = true
		}
		found[m[3]] = true
	}
	for _, m := range printExpr.FindAllStringSubmatch(source, -1) {
		found[m[1]] = true
	}
	for _, m := range controlExpr.FindAllStringSubmatch(source, -1) {
		found[m[1]] = true
	}

	vars := make([]string, 0, len(found))
	for name := range found {
		if local[name] || jinjaBuiltin[name] {
			continue
		}
		vars = append(vars, name)
	}
	sort.Strings(vars)
	return vars
}
