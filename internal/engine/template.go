package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"text/template"
)

// Context — данные run, доступные в шаблонах конфигурации и условиях.
//
//   - {{ .Input.param }}
//   - {{ .Steps.node_id.Output.field }}
//   - {{ .Steps.node_id.Status }}
type Context struct {
	// Input — входные параметры run.
	Input map[string]any `json:"input"`

	// Steps — результаты завершённых шагов по ID узла.
	Steps map[string]*StepContext `json:"steps"`
}

// StepContext — результат шага в шаблонах.
type StepContext struct {
	Output map[string]any `json:"output"`
	Status string         `json:"status"`
}

// NewContext создаёт контекст с входными параметрами run.
func NewContext(input map[string]any) *Context {
	if input == nil {
		input = make(map[string]any)
	}
	return &Context{
		Input: input,
		Steps: make(map[string]*StepContext),
	}
}

// AddStep добавляет результат шага в контекст.
func (c *Context) AddStep(nodeID string, output map[string]any, status string) {
	if output == nil {
		output = make(map[string]any)
	}
	c.Steps[nodeID] = &StepContext{
		Output: output,
		Status: status,
	}
}

// templateFuncs — функции, доступные в шаблонах помимо встроенных.
var templateFuncs = template.FuncMap{
	"default":  defaultValue,
	"coalesce": coalesce,
	"toJSON":   toJSON,
	"fromJSON": fromJSON,

	// has проверяет наличие ключа в output шага: {{ if has "id" .Steps.n1.Output }}
	"has": func(key string, m map[string]any) bool {
		_, ok := m[key]
		return ok
	},

	"contains":  strings.Contains,
	"hasPrefix": strings.HasPrefix,
	"lower":     strings.ToLower,
	"upper":     strings.ToUpper,
	"trim":      strings.TrimSpace,
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

func defaultValue(def, val any) any {
	if isEmpty(val) {
		return def
	}
	return val
}

func coalesce(values ...any) any {
	for _, v := range values {
		if !isEmpty(v) {
			return v
		}
	}
	return nil
}

func toJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func fromJSON(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil
	}
	return v
}

// parsed — кэш разобранных шаблонов. Условия на рёбрах вычисляются
// при каждом расчёте готовности, а набор шаблонов ограничен
// опубликованными версиями.
var parsed sync.Map // string -> *template.Template

func parse(tmpl string) (*template.Template, error) {
	if t, ok := parsed.Load(tmpl); ok {
		return t.(*template.Template), nil
	}

	t, err := template.New("").Funcs(templateFuncs).Parse(tmpl)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTemplateParse, err)
	}
	parsed.Store(tmpl, t)
	return t, nil
}

// Render рендерит строковый шаблон с контекстом.
//
// Строки без "{{" возвращаются как есть. Отсутствующий ключ map
// рендерится как "<no value>", как в text/template по умолчанию.
//
//	{{ .Input.param }}
//	{{ .Steps.fetch.Output.data }}
func Render(tmpl string, ctx *Context) (string, error) {
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil
	}

	t, err := parse(tmpl)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateRender, err)
	}
	return buf.String(), nil
}

// RenderValue рендерит строки внутри значения, обходя map и slice.
// Остальные типы (числа, bool) возвращаются без изменений.
func RenderValue(value any, ctx *Context) (any, error) {
	switch v := value.(type) {
	case string:
		return Render(v, ctx)
	case map[string]any:
		return renderMap(v, ctx)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			rendered, err := RenderValue(item, ctx)
			if err != nil {
				return nil, err
			}
			out[i] = rendered
		}
		return out, nil
	default:
		return value, nil
	}
}

func renderMap(m map[string]any, ctx *Context) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for key, item := range m {
		rendered, err := RenderValue(item, ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		out[key] = rendered
	}
	return out, nil
}

// RenderConfig рендерит конфигурацию узла в payload шага.
// Ключ "retry" относится к движку и в payload не попадает.
func RenderConfig(config map[string]any, ctx *Context) (map[string]any, error) {
	cfg := make(map[string]any, len(config))
	for k, v := range config {
		if k != "retry" {
			cfg[k] = v
		}
	}
	return renderMap(cfg, ctx)
}

// RenderCondition вычисляет условие как аргумент {{if}}.
// Пустое условие считается выполненным.
func RenderCondition(condition string, ctx *Context) (bool, error) {
	if condition == "" {
		return true, nil
	}

	// Оборачиваем условие в if, чтобы получить bool
	tmpl := fmt.Sprintf(`{{if %s}}true{{else}}false{{end}}`, condition)

	result, err := Render(tmpl, ctx)
	if err != nil {
		return false, err
	}

	return result == "true", nil
}
