package templating

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"sync"
	"text/template"

	"github.com/yegors/co-voice/pkg/logger"
)

// DefaultInstructionTemplate renders the system instruction followed by any
// retrieved context, separated by "---" lines.
const DefaultInstructionTemplate = `{{.Instruction}}
{{- if .Context}}

Here is some relevant context to answer the question:
{{join .Context "\n---\n"}}
{{- end}}
{{- if .Language}}

Reply in the language identified by "{{.Language}}".
{{- end}}`

// builtinKey is the cache key of the built-in template
const builtinKey = "<builtin>"

// InstructionData is the data available to instruction templates
type InstructionData struct {
	Instruction string
	Context     []string
	Language    string
}

// Engine handles template loading, caching, and rendering
type Engine struct {
	templatePath  string
	templateCache map[string]*template.Template
	cacheMutex    sync.RWMutex
	logger        *logger.Logger
}

// NewEngine creates a new template engine. An empty templatePath uses the
// built-in instruction template.
func NewEngine(templatePath string, logger *logger.Logger) *Engine {
	return &Engine{
		templatePath:  templatePath,
		templateCache: make(map[string]*template.Template),
		logger:        logger.Named("template-engine"),
	}
}

// RenderInstruction renders the generation instruction
func (e *Engine) RenderInstruction(data InstructionData) (string, error) {
	tmpl, err := e.getTemplate(e.key())
	if err != nil {
		return "", fmt.Errorf("failed to get template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	rendered := buf.String()
	e.logger.Debug("Instruction rendered",
		logger.Int("context_chunks", len(data.Context)),
		logger.Int("rendered_length", len(rendered)))

	return rendered, nil
}

func (e *Engine) key() string {
	if e.templatePath == "" {
		return builtinKey
	}
	return e.templatePath
}

// getTemplate retrieves a template from cache or loads it
func (e *Engine) getTemplate(key string) (*template.Template, error) {
	// Check cache first (read lock)
	e.cacheMutex.RLock()
	if tmpl, exists := e.templateCache[key]; exists {
		e.cacheMutex.RUnlock()
		return tmpl, nil
	}
	e.cacheMutex.RUnlock()

	e.cacheMutex.Lock()
	defer e.cacheMutex.Unlock()

	// Double-check in case another goroutine loaded it while we were waiting
	if tmpl, exists := e.templateCache[key]; exists {
		return tmpl, nil
	}

	tmpl, err := e.loadTemplate(key)
	if err != nil {
		return nil, err
	}

	e.templateCache[key] = tmpl
	e.logger.Debug("Template loaded and cached", logger.String("template", key))

	return tmpl, nil
}

func (e *Engine) loadTemplate(key string) (*template.Template, error) {
	content := DefaultInstructionTemplate
	if key != builtinKey {
		raw, err := os.ReadFile(key)
		if err != nil {
			return nil, fmt.Errorf("failed to read template file '%s': %w", key, err)
		}
		content = string(raw)
	}

	tmpl, err := template.New(key).Funcs(template.FuncMap{
		"join": strings.Join,
	}).Parse(content)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", key, err)
	}

	return tmpl, nil
}

// ReloadTemplate forces the template to be reloaded from file
func (e *Engine) ReloadTemplate() error {
	e.cacheMutex.Lock()
	defer e.cacheMutex.Unlock()

	tmpl, err := e.loadTemplate(e.key())
	if err != nil {
		return err
	}

	e.templateCache[e.key()] = tmpl
	e.logger.Info("Template reloaded", logger.String("template", e.key()))

	return nil
}
