package internal

import (
	"encoding/json"
	"fmt"
	"log"
	"reflect"
	"regexp"
	"strings"
	"unicode"

	"github.com/Knetic/govaluate"
	"github.com/PaesslerAG/jsonpath"
	"gopkg.in/yaml.v3"
)

// EmitList is one topic or a list of topics.
type EmitList []string

func (e *EmitList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var value string
		if err := node.Decode(&value); err != nil {
			return err
		}
		*e = EmitList{value}
	case yaml.SequenceNode:
		var values []string
		if err := node.Decode(&values); err != nil {
			return err
		}
		*e = EmitList(values)
	default:
		return fmt.Errorf("emit must be a string or a list of strings")
	}
	return nil
}

// Rule routes events matching When to the Emit topics, optionally only on
// the listed publisher drivers.
type Rule struct {
	When    string   `yaml:"when"`
	Emit    EmitList `yaml:"emit"`
	Drivers []string `yaml:"drivers"`
}

// RuleMatch is one topic an event should be published to.
type RuleMatch struct {
	Topic   string
	Drivers []string
}

// ruleParam binds a synthetic expression variable to either a flattened key
// or a JSONPath expression over the raw payload.
type ruleParam struct {
	flatKey  string
	jsonPath string
}

type compiledRule struct {
	when    string
	emit    []string
	drivers []string
	expr    *govaluate.EvaluableExpression
	params  map[string]ruleParam
}

type RuleEngine struct {
	rules  []compiledRule
	strict bool
	logger *log.Logger
}

var ruleFunctions = map[string]govaluate.ExpressionFunction{
	"contains": ruleContains,
	"like":     ruleLike,
	"lower":    ruleLower,
}

func NewRuleEngine(cfg RulesConfig) (*RuleEngine, error) {
	rules := make([]compiledRule, 0, len(cfg.Rules))
	for i, rule := range cfg.Rules {
		rewritten, params := rewriteExpression(rule.When)
		expr, err := govaluate.NewEvaluableExpressionWithFunctions(rewritten, ruleFunctions)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		rules = append(rules, compiledRule{
			when:    rule.When,
			emit:    rule.Emit,
			drivers: rule.Drivers,
			expr:    expr,
			params:  params,
		})
	}

	logger := cfg.Logger
	if logger == nil {
		logger = NewLogger("rules")
	}
	return &RuleEngine{rules: rules, strict: cfg.Strict, logger: logger}, nil
}

func (r *RuleEngine) Evaluate(event Event) []RuleMatch {
	if r == nil {
		return nil
	}
	return r.EvaluateWithLogger(event, r.logger)
}

// EvaluateWithLogger is Evaluate with a per-request logger.
func (r *RuleEngine) EvaluateWithLogger(event Event, logger *log.Logger) []RuleMatch {
	if r == nil || len(r.rules) == 0 {
		return nil
	}
	if logger == nil {
		logger = r.logger
	}

	data, raw := ruleInputs(event)
	matches := make([]RuleMatch, 0, 1)
	for _, rule := range r.rules {
		params := make(map[string]interface{}, len(data)+len(rule.params))
		for key, value := range data {
			params[key] = value
		}
		for name, param := range rule.params {
			if value, ok := resolveParam(param, data, raw); ok {
				params[name] = value
			}
		}

		if missing := missingVars(rule.expr, params); len(missing) > 0 {
			if r.strict {
				logger.Printf("rule %q skipped: missing %s", rule.when, strings.Join(missing, ", "))
				continue
			}
			for _, name := range missing {
				params[name] = nil
			}
		}

		result, err := rule.expr.Evaluate(params)
		if err != nil {
			logger.Printf("rule %q eval failed: %v", rule.when, err)
			continue
		}
		if ok, _ := result.(bool); ok {
			for _, topic := range rule.emit {
				matches = append(matches, RuleMatch{Topic: topic, Drivers: rule.drivers})
			}
		}
	}
	return matches
}

func ruleInputs(event Event) (map[string]interface{}, interface{}) {
	var raw interface{}
	if len(event.RawPayload) > 0 {
		if err := json.Unmarshal(event.RawPayload, &raw); err != nil {
			raw = nil
		}
	}
	data := event.Data
	if data == nil {
		if object, ok := raw.(map[string]interface{}); ok {
			data = Flatten(object)
		}
	}
	return data, raw
}

func resolveParam(param ruleParam, data map[string]interface{}, raw interface{}) (interface{}, bool) {
	if param.jsonPath != "" {
		if raw == nil {
			return nil, false
		}
		value, err := jsonpath.Get(param.jsonPath, raw)
		if err != nil {
			return nil, false
		}
		return value, true
	}
	value, ok := data[param.flatKey]
	return value, ok
}

func missingVars(expr *govaluate.EvaluableExpression, params map[string]interface{}) []string {
	var missing []string
	for _, name := range expr.Vars() {
		if _, ok := params[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// rewriteExpression replaces JSONPath ($.a.b) and dotted path (a.b, a[0].b)
// references with plain variable names govaluate can resolve.
func rewriteExpression(expr string) (string, map[string]ruleParam) {
	params := make(map[string]ruleParam)
	runes := []rune(expr)
	var b strings.Builder

	bind := func(p ruleParam) string {
		name := fmt.Sprintf("rulepath%d", len(params))
		params[name] = p
		return name
	}

	for i := 0; i < len(runes); {
		c := runes[i]
		switch {
		case c == '"' || c == '\'' || c == '`':
			j := i + 1
			for j < len(runes) && runes[j] != c {
				if runes[j] == '\\' {
					j++
				}
				j++
			}
			if j < len(runes) {
				j++
			}
			if j > len(runes) {
				j = len(runes)
			}
			b.WriteString(string(runes[i:j]))
			i = j
		case c == '[':
			j := i + 1
			for j < len(runes) && runes[j] != ']' {
				j++
			}
			if j < len(runes) {
				j++
			}
			b.WriteString(string(runes[i:j]))
			i = j
		case c == '$':
			j := scanPath(runes, i+1)
			b.WriteString(bind(ruleParam{jsonPath: string(runes[i:j])}))
			i = j
		case unicode.IsLetter(c) || c == '_':
			j := scanPath(runes, i+1)
			token := string(runes[i:j])
			if strings.ContainsAny(token, ".[") {
				b.WriteString(bind(ruleParam{flatKey: token}))
			} else {
				b.WriteString(token)
			}
			i = j
		case unicode.IsDigit(c):
			j := i + 1
			for j < len(runes) && (unicode.IsDigit(runes[j]) || runes[j] == '.') {
				j++
			}
			b.WriteString(string(runes[i:j]))
			i = j
		default:
			b.WriteRune(c)
			i++
		}
	}
	return b.String(), params
}

func scanPath(runes []rune, j int) int {
	for j < len(runes) {
		c := runes[j]
		if unicode.IsLetter(c) || unicode.IsDigit(c) || c == '_' || c == '.' || c == '[' || c == ']' || c == '*' {
			j++
			continue
		}
		break
	}
	return j
}

func ruleContains(args ...interface{}) (interface{}, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("contains expects 2 arguments, got %d", len(args))
	}
	switch collection := args[0].(type) {
	case nil:
		return false, nil
	case string:
		return strings.Contains(collection, fmt.Sprint(args[1])), nil
	case []interface{}:
		for _, item := range collection {
			if reflect.DeepEqual(item, args[1]) {
				return true, nil
			}
		}
		return false, nil
	case []string:
		for _, item := range collection {
			if item == fmt.Sprint(args[1]) {
				return true, nil
			}
		}
		return false, nil
	default:
		return nil, fmt.Errorf("contains: unsupported collection %T", args[0])
	}
}

// ruleLike matches SQL LIKE patterns: % is any run, _ is one character.
func ruleLike(args ...interface{}) (interface{}, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("like expects 2 arguments, got %d", len(args))
	}
	value, ok := args[0].(string)
	if !ok {
		return false, nil
	}
	pattern, ok := args[1].(string)
	if !ok {
		return nil, fmt.Errorf("like: pattern must be a string")
	}
	var b strings.Builder
	b.WriteString("^")
	for _, c := range pattern {
		switch c {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, err
	}
	return re.MatchString(value), nil
}

func ruleLower(args ...interface{}) (interface{}, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("lower expects 1 argument, got %d", len(args))
	}
	value, ok := args[0].(string)
	if !ok {
		return "", nil
	}
	return strings.ToLower(value), nil
}
