package newsletter

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/aymerick/raymond"
	"github.com/expr-lang/expr"
	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"

	"letterdesk/internal/logger"
)

// ErrRender is returned for any template that fails to parse or evaluate.
var ErrRender = errors.New("Failed to render newsletter template")

func init() {
	raymond.RegisterHelper("formatDate", func(v interface{}) string {
		return FormatDate(v)
	})
	raymond.RegisterHelper("or", func(a, b interface{}) interface{} {
		if raymond.IsTrue(a) {
			return a
		}
		return b
	})
	raymond.RegisterHelper("math", func(a interface{}, op string, b interface{}) interface{} {
		return applyMath(toFloat(a), op, toFloat(b))
	})
	raymond.RegisterHelper("markdown", func(v interface{}) raymond.SafeString {
		return raymond.SafeString(MarkdownToHTML(raymond.Str(v)))
	})
}

// IsHandlebars reports whether tpl should be rendered with the Handlebars
// engine. Templates that contain any ${...} placeholder use the expression
// engine instead.
func IsHandlebars(tpl string) bool {
	return strings.Contains(tpl, "{{") && !strings.Contains(tpl, "${")
}

// Render evaluates tpl against ctx, choosing the engine by IsHandlebars.
func Render(tpl string, ctx *Context) (string, error) {
	if ctx == nil {
		ctx = &Context{}
	}
	data := ctx.Data()
	if IsHandlebars(tpl) {
		return renderHandlebars(tpl, data)
	}
	return renderLiteral(tpl, data)
}

func renderHandlebars(tpl string, data map[string]any) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = ""
			err = fmt.Errorf("%w: %v", ErrRender, r)
		}
	}()

	parsed, err := raymond.Parse(tpl)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRender, err)
	}
	out, err = parsed.Exec(data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRender, err)
	}
	return out, nil
}

// renderLiteral substitutes every ${expression} in tpl. Expressions are
// compiled with expr against the template data; unknown names evaluate to
// nil and render as an empty string. A backslash before ${ emits it verbatim.
func renderLiteral(tpl string, data map[string]any) (string, error) {
	var b strings.Builder
	b.Grow(len(tpl))

	for i := 0; i < len(tpl); {
		if strings.HasPrefix(tpl[i:], `\${`) {
			b.WriteString("${")
			i += 3
			continue
		}
		if !strings.HasPrefix(tpl[i:], "${") {
			b.WriteByte(tpl[i])
			i++
			continue
		}

		end, err := closingBrace(tpl, i+2)
		if err != nil {
			return "", err
		}
		value, err := evalExpression(tpl[i+2:end], data)
		if err != nil {
			return "", err
		}
		b.WriteString(value)
		i = end + 1
	}

	return b.String(), nil
}

// closingBrace finds the brace that closes the expression starting at
// start, skipping nested braces and quoted strings.
func closingBrace(tpl string, start int) (int, error) {
	depth := 0
	var quote byte
	for i := start; i < len(tpl); i++ {
		c := tpl[i]
		if quote != 0 {
			switch c {
			case '\\':
				i++
			case quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'', '`':
			quote = c
		case '{':
			depth++
		case '}':
			if depth == 0 {
				return i, nil
			}
			depth--
		}
	}
	return 0, fmt.Errorf("%w: unterminated expression at offset %d", ErrRender, start-2)
}

func evalExpression(code string, data map[string]any) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", nil
	}

	program, err := expr.Compile(code, expr.Env(data), expr.AllowUndefinedVariables())
	if err != nil {
		logger.Debug("Template expression failed to compile", "expression", code, "error", err.Error())
		return "", expressionError(code, err)
	}
	result, err := expr.Run(program, data)
	if err != nil {
		return "", expressionError(code, err)
	}
	return display(result), nil
}

// expressionError wraps err in ErrRender. "||" only combines booleans, so
// authors reaching for a fallback are pointed at "??".
func expressionError(code string, err error) error {
	if strings.Contains(code, "||") {
		return fmt.Errorf("%w: %v (use ?? for fallback values, e.g. ${featured.title ?? \"Untitled\"})", ErrRender, err)
	}
	return fmt.Errorf("%w: %v", ErrRender, err)
}

// display converts an evaluated expression to its template text. Lists are
// joined with commas and integral numbers print without a fraction.
func display(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case []any:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = display(item)
		}
		return strings.Join(parts, ",")
	case []string:
		return strings.Join(val, ",")
	case map[string]any:
		return ""
	default:
		return fmt.Sprint(val)
	}
}

// MarkdownToHTML converts a Markdown snippet to HTML.
func MarkdownToHTML(md string) string {
	if strings.TrimSpace(md) == "" {
		return ""
	}
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	renderer := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags | html.HrefTargetBlank})
	return strings.TrimSpace(string(markdown.ToHTML([]byte(md), p, renderer)))
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case float64:
		return n
	case float32:
		return float64(n)
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(raymond.Str(v)), 64)
	if err != nil {
		return 0
	}
	return f
}

func applyMath(a float64, op string, b float64) interface{} {
	var r float64
	switch op {
	case "+":
		r = a + b
	case "-":
		r = a - b
	case "*":
		r = a * b
	case "/":
		if b == 0 {
			return 0
		}
		r = a / b
	case "%":
		if b == 0 {
			return 0
		}
		r = math.Mod(a, b)
	default:
		return 0
	}
	if r == math.Trunc(r) && math.Abs(r) < 1<<53 {
		return int(r)
	}
	return r
}
