package processor_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdc-sink/internal/config"
	"cdc-sink/internal/models"
	"cdc-sink/internal/processor"
)

func writeScript(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "transform.js")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o600))
	return path
}

func userEvent() *models.ChangeEvent {
	return &models.ChangeEvent{
		Table:     models.TableUsers,
		Operation: models.OperationUpdate,
		Database:  "fastapi_db",
		Before:    models.Fields{"id": json.Number("1"), "email": "old@example.com"},
		After:     models.Fields{"id": json.Number("1"), "email": "new@example.com", "is_active": json.Number("1")},
		Position:  mysql.Position{Name: "mysql-bin.000003", Pos: 1024},
	}
}

func TestTransformerDisabledPassesThrough(t *testing.T) {
	logger, _ := test.NewNullLogger()
	tr, err := processor.NewTransformer(&config.ProcessorConfig{Enabled: false, Script: "ignored.js"}, logger)
	require.NoError(t, err)

	event := userEvent()
	out, err := tr.Transform(event)
	require.NoError(t, err)
	assert.Same(t, event, out)
}

func TestTransformerRules(t *testing.T) {
	tests := []struct {
		name string
		rule config.RuleConfig
		want models.Fields
	}{
		{
			name: "include",
			rule: config.RuleConfig{Table: "users", Include: []string{"ID", "email"}},
			want: models.Fields{"id": json.Number("1"), "email": "new@example.com"},
		},
		{
			name: "exclude",
			rule: config.RuleConfig{Exclude: []string{"email"}},
			want: models.Fields{"id": json.Number("1"), "is_active": json.Number("1")},
		},
		{
			name: "rename",
			rule: config.RuleConfig{Database: "fastapi_db", Rename: map[string]string{"Email": "contact"}},
			want: models.Fields{"id": json.Number("1"), "contact": "new@example.com", "is_active": json.Number("1")},
		},
		{
			name: "add fields",
			rule: config.RuleConfig{Include: []string{"id"}, AddFields: map[string]string{"email": "static@example.com"}},
			want: models.Fields{"id": json.Number("1"), "email": "static@example.com"},
		},
		{
			name: "other table untouched",
			rule: config.RuleConfig{Table: "orders", Include: []string{"id"}},
			want: userEvent().After,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, _ := test.NewNullLogger()
			tr, err := processor.NewTransformer(&config.ProcessorConfig{
				Enabled: true,
				Rules:   []config.RuleConfig{tt.rule},
			}, logger)
			require.NoError(t, err)

			out, err := tr.Transform(userEvent())
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.After)
			assert.Equal(t, models.OperationUpdate, out.Operation)
		})
	}
}

func TestTransformerScript(t *testing.T) {
	script := writeScript(t, `function transform(event) {
		console.info("transforming", event.table);
		event.after.email = event.after.email.toUpperCase();
		event.after.price = 19.99;
		return event;
	}`)

	logger, hook := test.NewNullLogger()
	tr, err := processor.NewTransformer(&config.ProcessorConfig{Enabled: true, Script: script}, logger)
	require.NoError(t, err)

	out, err := tr.Transform(userEvent())
	require.NoError(t, err)

	assert.Equal(t, models.TableUsers, out.Table)
	assert.Equal(t, models.OperationUpdate, out.Operation)
	assert.Equal(t, "NEW@EXAMPLE.COM", out.After["email"])
	assert.Equal(t, json.Number("1"), out.After["id"])
	assert.Equal(t, json.Number("19.99"), out.After["price"])
	assert.Equal(t, "old@example.com", out.Before["email"])
	assert.Equal(t, "mysql-bin.000003", out.Position.Name, "source metadata survives the script")

	var logged bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.InfoLevel && e.Message == "transformingusers" {
			logged = true
		}
	}
	assert.True(t, logged, "console.info is routed to the logger")
}

func TestTransformerScriptRejects(t *testing.T) {
	script := writeScript(t, `(function(event) { return event.operation === "delete" ? event : null; })`)

	logger, _ := test.NewNullLogger()
	tr, err := processor.NewTransformer(&config.ProcessorConfig{Enabled: true, Script: script}, logger)
	require.NoError(t, err)

	_, err = tr.Transform(userEvent())
	assert.ErrorIs(t, err, processor.ErrEventRejected)
}

func TestTransformerScriptError(t *testing.T) {
	script := writeScript(t, `(function(event) { return event.after.missing.field; })`)

	logger, _ := test.NewNullLogger()
	tr, err := processor.NewTransformer(&config.ProcessorConfig{Enabled: true, Script: script}, logger)
	require.NoError(t, err)

	_, err = tr.Transform(userEvent())
	require.Error(t, err)
	assert.NotErrorIs(t, err, processor.ErrEventRejected)
}

func TestTransformerInvalidScript(t *testing.T) {
	logger, _ := test.NewNullLogger()

	_, err := processor.NewTransformer(&config.ProcessorConfig{Enabled: true, Script: writeScript(t, `var x = 1;`)}, logger)
	assert.ErrorContains(t, err, "must export a function")

	_, err = processor.NewTransformer(&config.ProcessorConfig{Enabled: true, Script: writeScript(t, `function (`)}, logger)
	assert.ErrorContains(t, err, "failed to compile script")

	_, err = processor.NewTransformer(&config.ProcessorConfig{Enabled: true, Script: "/nonexistent/transform.js"}, logger)
	assert.ErrorContains(t, err, "failed to read JavaScript script file")
}

func TestTransformerConcurrentScripts(t *testing.T) {
	script := writeScript(t, `(function(event) { event.after.email = "x"; return event; })`)

	logger, _ := test.NewNullLogger()
	tr, err := processor.NewTransformer(&config.ProcessorConfig{Enabled: true, Script: script}, logger)
	require.NoError(t, err)

	done := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			_, err := tr.Transform(userEvent())
			done <- err
		}()
	}
	for i := 0; i < 8; i++ {
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Fatal("transform did not finish")
		}
	}
}

func TestValidateRules(t *testing.T) {
	existing := writeScript(t, `(function(e) { return e; })`)

	tests := []struct {
		name    string
		cfg     *config.ProcessorConfig
		wantErr string
	}{
		{name: "nil", cfg: nil},
		{name: "disabled", cfg: &config.ProcessorConfig{Script: "/missing.js"}},
		{name: "script ok", cfg: &config.ProcessorConfig{Enabled: true, Script: existing}},
		{
			name:    "script missing",
			cfg:     &config.ProcessorConfig{Enabled: true, Script: "/missing.js"},
			wantErr: "script file not found",
		},
		{
			name:    "script and rules",
			cfg:     &config.ProcessorConfig{Enabled: true, Script: existing, Rules: []config.RuleConfig{{}}},
			wantErr: "cannot specify both 'script' and 'rules'",
		},
		{
			name:    "include and exclude",
			cfg:     &config.ProcessorConfig{Enabled: true, Rules: []config.RuleConfig{{Include: []string{"id"}, Exclude: []string{"email"}}}},
			wantErr: "cannot specify both 'include' and 'exclude'",
		},
		{
			name:    "exclude key",
			cfg:     &config.ProcessorConfig{Enabled: true, Rules: []config.RuleConfig{{Exclude: []string{"ID"}}}},
			wantErr: "cannot exclude key column",
		},
		{
			name:    "include without key",
			cfg:     &config.ProcessorConfig{Enabled: true, Rules: []config.RuleConfig{{Include: []string{"email"}}}},
			wantErr: "must contain key column",
		},
		{
			name:    "rename outside include",
			cfg:     &config.ProcessorConfig{Enabled: true, Rules: []config.RuleConfig{{Include: []string{"id"}, Rename: map[string]string{"email": "contact"}}}},
			wantErr: "not found in include list",
		},
		{
			name:    "rename key",
			cfg:     &config.ProcessorConfig{Enabled: true, Rules: []config.RuleConfig{{Rename: map[string]string{"id": "user_id"}}}},
			wantErr: "cannot rename key column",
		},
		{
			name: "valid rules",
			cfg:  &config.ProcessorConfig{Enabled: true, Rules: []config.RuleConfig{{Include: []string{"id", "email"}, Rename: map[string]string{"email": "contact"}}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := processor.ValidateRules(tt.cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
