package queue

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateGatePlan_Valid(t *testing.T) {
	t.Parallel()
	plan := json.RawMessage(`{
		"levels": [
			{"name": "L0", "required": true, "gates": [{"name": "format"}, {"name": "lint"}]},
			{"name": "L1", "required": false, "gates": [{"name": "unit_tests"}]}
		]
	}`)
	require.NoError(t, ValidateGatePlan(plan))
}

func TestValidateGatePlan_Empty(t *testing.T) {
	t.Parallel()
	require.Error(t, ValidateGatePlan(nil))
	require.Error(t, ValidateGatePlan(json.RawMessage(``)))
}

func TestValidateGatePlan_NotJSON(t *testing.T) {
	t.Parallel()
	require.Error(t, ValidateGatePlan(json.RawMessage(`not json`)))
}

func TestValidateGatePlan_MissingLevels(t *testing.T) {
	t.Parallel()
	require.Error(t, ValidateGatePlan(json.RawMessage(`{}`)))
}

func TestValidateGatePlan_BadLevelName(t *testing.T) {
	t.Parallel()
	plan := json.RawMessage(`{"levels": [{"name": "L9", "gates": [{"name": "x"}]}]}`)
	require.Error(t, ValidateGatePlan(plan))
}

func TestValidateGatePlan_GateMissingName(t *testing.T) {
	t.Parallel()
	plan := json.RawMessage(`{"levels": [{"name": "L0", "gates": [{}]}]}`)
	require.Error(t, ValidateGatePlan(plan))
}

func TestValidateGatePlan_EmptyGatesRejected(t *testing.T) {
	t.Parallel()
	plan := json.RawMessage(`{"levels": [{"name": "L0", "gates": []}]}`)
	require.Error(t, ValidateGatePlan(plan))
}
