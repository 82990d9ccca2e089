package processor

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dop251/goja"
	"github.com/sirupsen/logrus"

	"cdc-sink/internal/config"
	"cdc-sink/internal/models"
)

// ErrEventRejected is returned when a JavaScript transform function rejects an event
// by returning null or undefined
var ErrEventRejected = errors.New("event rejected by transformer")

// Transformer rewrites change events before they are decoded, using either a
// JavaScript function or declarative field rules.
type Transformer struct {
	enabled bool
	logger  *logrus.Logger
	rules   []*RuleMatcher
	program *goja.Program // Compiled once, run in a fresh runtime per event
}

// RuleMatcher matches and applies transformation rules
type RuleMatcher struct {
	database  string
	table     string
	include   map[string]bool
	exclude   map[string]bool
	rename    map[string]string
	addFields map[string]string
}

// NewTransformer creates a new transformer with the given configuration
func NewTransformer(cfg *config.ProcessorConfig, logger *logrus.Logger) (*Transformer, error) {
	t := &Transformer{logger: logger}
	if cfg == nil || !cfg.Enabled {
		return t, nil
	}
	t.enabled = true

	if cfg.Script != "" {
		src, err := os.ReadFile(cfg.Script)
		if err != nil {
			return nil, fmt.Errorf("failed to read JavaScript script file: %w", err)
		}
		if err := t.loadScript(cfg.Script, string(src)); err != nil {
			return nil, fmt.Errorf("invalid JavaScript script: %w", err)
		}
		logger.Infof("Loaded JavaScript transformation script: %s", cfg.Script)
	}

	for _, rule := range cfg.Rules {
		matcher := &RuleMatcher{
			database:  rule.Database,
			table:     rule.Table,
			include:   make(map[string]bool, len(rule.Include)),
			exclude:   make(map[string]bool, len(rule.Exclude)),
			rename:    make(map[string]string, len(rule.Rename)),
			addFields: rule.AddFields,
		}
		for _, field := range rule.Include {
			matcher.include[strings.ToLower(field)] = true
		}
		for _, field := range rule.Exclude {
			matcher.exclude[strings.ToLower(field)] = true
		}
		for from, to := range rule.Rename {
			matcher.rename[strings.ToLower(from)] = to
		}
		t.rules = append(t.rules, matcher)
	}

	return t, nil
}

// loadScript compiles the script and checks that it yields a transform function
func (t *Transformer) loadScript(name, src string) error {
	program, err := goja.Compile(name, src, false)
	if err != nil {
		return fmt.Errorf("failed to compile script: %w", err)
	}
	if _, err := t.callable(goja.New(), program); err != nil {
		return err
	}
	t.program = program
	return nil
}

// callable runs the program and returns the transform function. The script
// may evaluate to an anonymous function or declare a named 'transform'.
func (t *Transformer) callable(vm *goja.Runtime, program *goja.Program) (goja.Callable, error) {
	result, err := vm.RunProgram(program)
	if err != nil {
		return nil, fmt.Errorf("failed to execute script: %w", err)
	}

	if result != nil && !goja.IsUndefined(result) && !goja.IsNull(result) {
		if fn, ok := goja.AssertFunction(result); ok {
			return fn, nil
		}
	}

	if named := vm.Get("transform"); named != nil && !goja.IsUndefined(named) && !goja.IsNull(named) {
		if fn, ok := goja.AssertFunction(named); ok {
			return fn, nil
		}
	}

	return nil, fmt.Errorf("script must export a function (either anonymous function or named 'transform' function)")
}

// Transform applies the configured transformation to a change event. It
// returns ErrEventRejected when the script drops the event.
func (t *Transformer) Transform(event *models.ChangeEvent) (*models.ChangeEvent, error) {
	if t == nil || !t.enabled {
		return event, nil
	}

	// Script takes precedence over YAML rules
	if t.program != nil {
		return t.transformWithJavaScript(event)
	}

	if len(t.rules) > 0 {
		return t.transformWithRules(event), nil
	}

	return event, nil
}

func (t *Transformer) transformWithJavaScript(event *models.ChangeEvent) (*models.ChangeEvent, error) {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event to JSON: %w", err)
	}

	t.logger.Debugf("Transforming event with JavaScript: %s (operation: %s)", event.Table, event.Operation)

	// goja.Runtime is not goroutine safe, so each event gets its own
	vm := goja.New()
	if err := t.setupConsoleBindings(vm); err != nil {
		return nil, fmt.Errorf("failed to setup console bindings: %w", err)
	}

	fn, err := t.callable(vm, t.program)
	if err != nil {
		return nil, err
	}

	if err := vm.Set("eventJSON", string(eventJSON)); err != nil {
		return nil, fmt.Errorf("failed to set event JSON: %w", err)
	}
	eventObj, err := vm.RunString("JSON.parse(eventJSON)")
	if err != nil {
		return nil, fmt.Errorf("failed to parse event JSON: %w", err)
	}

	result, err := fn(goja.Undefined(), eventObj)
	if err != nil {
		return nil, fmt.Errorf("JavaScript transform function error: %w", err)
	}

	if result == nil || goja.IsUndefined(result) || goja.IsNull(result) {
		t.logger.Infof("Event rejected by JavaScript transformer: %s (operation: %s)", event.Table, event.Operation)
		return nil, ErrEventRejected
	}

	resultJSON, err := json.Marshal(result.Export())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	t.logger.Debugf("JavaScript transformation result: %s", string(resultJSON))

	transformed := &models.ChangeEvent{}
	dec := json.NewDecoder(bytes.NewReader(resultJSON))
	dec.UseNumber()
	if err := dec.Decode(transformed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}

	// Source metadata is not exposed to scripts
	transformed.Database = event.Database
	transformed.Position = event.Position
	transformed.CommittedAt = event.CommittedAt

	return transformed, nil
}

func (t *Transformer) transformWithRules(event *models.ChangeEvent) *models.ChangeEvent {
	var matched *RuleMatcher
	for _, rule := range t.rules {
		if rule.matches(event.Database, event.Table) {
			matched = rule
			break
		}
	}
	if matched == nil {
		return event
	}

	transformed := *event
	transformed.Before = matched.transformRow(event.Before)
	transformed.After = matched.transformRow(event.After)
	return &transformed
}

// transformRow applies the rule to a single row image
func (r *RuleMatcher) transformRow(row models.Fields) models.Fields {
	if row == nil {
		return nil
	}

	transformed := make(models.Fields, len(row)+len(r.addFields))

	// Static fields first so row values win on collision
	for key, value := range r.addFields {
		transformed[key] = value
	}

	for key, value := range row {
		keyLower := strings.ToLower(key)

		if len(r.exclude) > 0 && r.exclude[keyLower] {
			continue
		}
		if len(r.include) > 0 && !r.include[keyLower] {
			continue
		}

		outputKey := key
		if newName, ok := r.rename[keyLower]; ok {
			outputKey = newName
		}
		transformed[outputKey] = value
	}

	return transformed
}

// matches checks if a rule matches the given database and table.
// Empty selectors match everything.
func (r *RuleMatcher) matches(database, table string) bool {
	if r.database != "" && !strings.EqualFold(r.database, database) {
		return false
	}
	if r.table != "" && !strings.EqualFold(r.table, table) {
		return false
	}
	return true
}

// setupConsoleBindings routes console.* calls from scripts to the logger
func (t *Transformer) setupConsoleBindings(vm *goja.Runtime) error {
	console := vm.NewObject()

	formatArgs := func(call goja.FunctionCall) string {
		args := make([]interface{}, len(call.Arguments))
		for i, arg := range call.Arguments {
			args[i] = arg.Export()
		}
		return fmt.Sprint(args...)
	}

	bind := func(name string, log func(args ...interface{})) error {
		fn := func(call goja.FunctionCall) goja.Value {
			log(formatArgs(call))
			return goja.Undefined()
		}
		if err := console.Set(name, fn); err != nil {
			return fmt.Errorf("failed to set console.%s: %w", name, err)
		}
		return nil
	}

	for name, log := range map[string]func(args ...interface{}){
		"log":   t.logger.Info,
		"info":  t.logger.Info,
		"warn":  t.logger.Warn,
		"error": t.logger.Error,
		"debug": t.logger.Debug,
	} {
		if err := bind(name, log); err != nil {
			return err
		}
	}

	if err := vm.Set("console", console); err != nil {
		return fmt.Errorf("failed to set console object: %w", err)
	}
	return nil
}

// ValidateRules validates processor configuration rules
func ValidateRules(cfg *config.ProcessorConfig) error {
	if cfg == nil || !cfg.Enabled {
		return nil
	}

	if cfg.Script != "" {
		if _, err := os.Stat(cfg.Script); os.IsNotExist(err) {
			return fmt.Errorf("JavaScript script file not found: %s", cfg.Script)
		}
	}

	if cfg.Script != "" && len(cfg.Rules) > 0 {
		return fmt.Errorf("cannot specify both 'script' and 'rules' - script takes precedence")
	}

	for i, rule := range cfg.Rules {
		if len(rule.Include) > 0 && len(rule.Exclude) > 0 {
			return fmt.Errorf("processor rule %d: cannot specify both 'include' and 'exclude' fields", i)
		}

		// The key column must survive the rule or the event cannot be applied
		for _, field := range rule.Exclude {
			if strings.EqualFold(field, models.KeyColumn) {
				return fmt.Errorf("processor rule %d: cannot exclude key column '%s'", i, models.KeyColumn)
			}
		}
		if len(rule.Include) > 0 && !containsFold(rule.Include, models.KeyColumn) {
			return fmt.Errorf("processor rule %d: include list must contain key column '%s'", i, models.KeyColumn)
		}

		for oldName := range rule.Rename {
			if len(rule.Include) > 0 && !containsFold(rule.Include, oldName) {
				return fmt.Errorf("processor rule %d: rename key '%s' not found in include list", i, oldName)
			}
			if strings.EqualFold(oldName, models.KeyColumn) {
				return fmt.Errorf("processor rule %d: cannot rename key column '%s'", i, models.KeyColumn)
			}
		}
	}

	return nil
}

func containsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}
