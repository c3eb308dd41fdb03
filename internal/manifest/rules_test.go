package manifest

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawRules(t *testing.T, doc string) map[string]json.RawMessage {
	t.Helper()
	var rules map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(doc), &rules))
	return rules
}

func TestMatchesAnyOf(t *testing.T) {
	metrics := DeviceMetrics{Vendor: "Acme", Region: "eu"}

	rules := rawRules(t, `{"vendor": ["acme", "other"]}`)
	assert.True(t, Matches(rules, metrics, nil))

	rules = rawRules(t, `{"vendor": "nomatch"}`)
	assert.False(t, Matches(rules, metrics, nil))
}

func TestMatchesUnknownPropertyIgnored(t *testing.T) {
	metrics := DeviceMetrics{Vendor: "Acme"}
	rules := rawRules(t, `{"vendor": "acme", "bogus_prop": "x"}`)
	assert.True(t, Matches(rules, metrics, nil))
}

func TestMatchesCaseInsensitivePropertyAndValue(t *testing.T) {
	metrics := DeviceMetrics{CoreVersion: "2.0"}
	rules := rawRules(t, `{"CORE_VERSION": ["2.0"]}`)
	assert.True(t, Matches(rules, metrics, nil))
}

func TestMatchesExprEscapeHatch(t *testing.T) {
	metrics := DeviceMetrics{Region: "eu", DeviceID: "abc"}
	rules := rawRules(t, `{"region": {"expr": "region == \"eu\" && device_id != \"\""}}`)
	assert.True(t, Matches(rules, metrics, nil))

	rules = rawRules(t, `{"region": {"expr": "region == \"us\""}}`)
	assert.False(t, Matches(rules, metrics, nil))
}

func TestMatchesEmptyRulesAlwaysMatch(t *testing.T) {
	assert.True(t, Matches(nil, DeviceMetrics{}, nil))
}
