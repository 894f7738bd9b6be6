package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	levErrors "github.com/danield137/lev/pkg/errors"
	"github.com/danield137/lev/runtime/budget"
	"github.com/danield137/lev/runtime/evals"
	_ "github.com/danield137/lev/runtime/evals/handlers"
)

const validSuite = `
version: "1.0"
name: weather
llm:
  provider: {type: mock, model: test, api_key: "${LEV_TEST_KEY}"}
servers:
  forecast:
    command: ${LEV_TEST_BIN}/forecast
    args: [--units, metric]
    env: {API_KEY: "${LEV_TEST_KEY}", PLAIN: plain}
    timeout: 5s
  inline:
    instructions: Static answers.
    tools:
      - name: capital
        result: Paris
defaults:
  concurrency: 2
  servers: [forecast]
  execution:
    max_depth: 4
    timeout: 2m
    budget: {max_size: 1000, reaction: truncate}
  scorers:
    - type: contains_string
      parameters: {target: Paris}
cases:
  - id: paris
    prompt: What is the weather in Paris?
    scorers:
      - type: tool_call_count
        parameters:
          calls: [{tool: forecast, min: 1}]
  - id: capital
    prompt: What is the capital of France?
    servers: [inline]
    skip_default_scorers: true
    execution:
      max_depth: 0
      tool_choice: none
    scorers:
      - type: contains_string
        name: has_paris
        weight: 2
        parameters: {target: Paris}
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadSuite(t *testing.T) {
	t.Setenv("LEV_TEST_KEY", "sekret")
	t.Setenv("LEV_TEST_BIN", "/opt/bin")

	s, err := LoadSuite(writeFile(t, "suite.yaml", validSuite))
	require.NoError(t, err)
	require.NoError(t, s.Validate(nil))

	assert.Equal(t, "weather", s.Name)
	assert.NotEmpty(t, s.Path)
	assert.Equal(t, "sekret", s.LLM.Provider.APIKey)

	fc := s.Servers["forecast"]
	assert.Equal(t, "forecast", fc.Name)
	assert.Equal(t, "/opt/bin/forecast", fc.Command)
	assert.Equal(t, map[string]string{"API_KEY": "sekret", "PLAIN": "plain"}, fc.Env)
	assert.Equal(t, 5*time.Second, fc.Timeout)
	assert.True(t, s.Servers["inline"].Local())
}

func TestEvalCases_MergesDefaults(t *testing.T) {
	s, err := ParseSuite([]byte(validSuite))
	require.NoError(t, err)

	cases, err := s.EvalCases()
	require.NoError(t, err)
	require.Len(t, cases, 2)

	paris := cases[0]
	require.Len(t, paris.Servers, 1)
	assert.Equal(t, "forecast", paris.Servers[0].Name)
	require.NotNil(t, paris.Execution.MaxDepth)
	assert.Equal(t, 4, *paris.Execution.MaxDepth)
	assert.Equal(t, 2*time.Minute, paris.Execution.Timeout)
	assert.Equal(t, budget.Truncate, paris.Execution.Budget.Reaction)
	require.Len(t, paris.Scorers, 2)
	assert.Equal(t, "contains_string", paris.Scorers[0].Metric())
	assert.Equal(t, "tool_call_count", paris.Scorers[1].Metric())

	capital := cases[1]
	assert.Equal(t, "inline", capital.Servers[0].Name)
	assert.Equal(t, 0, *capital.Execution.MaxDepth)
	assert.Equal(t, "none", capital.Execution.ToolChoice)
	assert.Equal(t, 2*time.Minute, capital.Execution.Timeout, "unset fields keep the default")
	require.Len(t, capital.Scorers, 1)
	assert.Equal(t, "has_paris", capital.Scorers[0].Metric())
	assert.Equal(t, 2.0, capital.Scorers[0].EffectiveWeight())
}

func TestParseSuite_SchemaErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"unknown field", "version: '1.0'\nsurprise: 1\ncases: [{id: a, prompt: p}]", "surprise"},
		{"no cases", "version: '1.0'\ncases: []", "cases"},
		{"unquoted version", "version: 1.0\ncases: [{id: a, prompt: p}]", "version"},
		{"bad reaction", "version: '1.0'\ncases: [{id: a, prompt: p, execution: {budget: {max_size: 1, reaction: explode}}}]", "reaction"},
		{"bad duration", "version: '1.0'\ncases: [{id: a, prompt: p, execution: {timeout: soon}}]", "timeout"},
		{"scorer without type", "version: '1.0'\ncases: [{id: a, prompt: p, scorers: [{name: x}]}]", "type"},
		{"not yaml", "version: [", "parse YAML"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSuite([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCheckVersion(t *testing.T) {
	for _, ok := range []string{"1", "1.0", "1.0.0", "v1.0.0"} {
		assert.NoError(t, CheckVersion(ok), ok)
	}
	for _, bad := range []string{"", "one", "0.9.0", "2.0.0", "1.1.0"} {
		assert.Error(t, CheckVersion(bad), bad)
	}
}

func TestValidate_SemanticErrors(t *testing.T) {
	doc := `
version: "1.0"
servers:
  tools:
    tools: [{name: t, result: ok}]
  broken: {args: [x]}
defaults:
  servers: [missing]
cases:
  - id: a
    prompt: p
    servers: [nope]
    scorers:
      - type: mystery
      - type: tool_call_count
        parameters: {order_matters: true, calls: {t: {min: 1}}}
  - id: a
    prompt: p
    servers: [tools]
    execution: {max_depth: 1}
`
	s, err := ParseSuite([]byte(doc))
	require.NoError(t, err)

	err = s.Validate(evals.NewRegistry())
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "servers.broken")
	assert.Contains(t, msg, `unknown server "missing"`)
	assert.Contains(t, msg, `unknown server "nope"`)
	assert.Contains(t, msg, `unknown type "mystery"`)
	assert.Contains(t, msg, "order_matters requires calls as a list")
	assert.Contains(t, msg, "duplicate case id")

	var ce *levErrors.ConfigError
	assert.ErrorAs(t, err, &ce)
	assert.Equal(t, levErrors.KindConfig, levErrors.KindOf(err))
}

func TestValidate_Warnings(t *testing.T) {
	s, err := ParseSuite([]byte("version: '1.0'\ncases: [{id: a, prompt: p}]"))
	require.NoError(t, err)
	v := NewSuiteValidator(s, nil)
	require.NoError(t, v.Validate())
	assert.Contains(t, v.Warnings(), "cases[a]: no scorers, the aggregate will be 0")
}

func TestValidate_DuplicateMetricAcrossDefaults(t *testing.T) {
	doc := `
version: "1.0"
defaults:
  scorers: [{type: contains_string, parameters: {target: x}}]
cases:
  - id: a
    prompt: p
    scorers: [{type: contains_string, parameters: {target: y}}]
`
	s, err := ParseSuite([]byte(doc))
	require.NoError(t, err)
	assert.ErrorContains(t, s.Validate(nil), "duplicate metric")
}

func TestParseSuite_MetadataName(t *testing.T) {
	doc := `
version: "1.0"
metadata:
  name: nightly
  labels: {team: agents}
cases: [{id: a, prompt: p}]
`
	s, err := ParseSuite([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, "nightly", s.Name)
	assert.Equal(t, map[string]string{"team": "agents"}, s.Metadata.Labels)

	_, err = ParseSuite([]byte("version: '1.0'\nmetadata: {uid: x}\ncases: [{id: a, prompt: p}]"))
	assert.ErrorContains(t, err, "uid")
}
