package queue

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/agentgate/core/agenterr"
)

// gatePlanEnvelopeSchema describes only the shape spec.md requires the core
// to understand about a VerificationGatePlan: the named levels (L0-L3), each
// with a required/optional flag and a list of gate names. The body each gate
// actually runs stays opaque to the core and is not constrained here; it is
// interpreted entirely by the external Verifier.
const gatePlanEnvelopeSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["levels"],
	"properties": {
		"levels": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["name", "gates"],
				"properties": {
					"name": {"type": "string", "enum": ["L0", "L1", "L2", "L3"]},
					"required": {"type": "boolean"},
					"gates": {
						"type": "array",
						"minItems": 1,
						"items": {
							"type": "object",
							"required": ["name"],
							"properties": {
								"name": {"type": "string", "minLength": 1}
							}
						}
					}
				}
			}
		}
	}
}`

var (
	gatePlanSchemaOnce sync.Once
	gatePlanSchema     *jsonschema.Schema
	gatePlanSchemaErr  error
)

func compiledGatePlanSchema() (*jsonschema.Schema, error) {
	gatePlanSchemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(gatePlanEnvelopeSchema))
		if err != nil {
			gatePlanSchemaErr = fmt.Errorf("queue: decode gate plan schema: %w", err)
			return
		}
		const resourceURL = "agentgate://verification-gate-plan-envelope.json"
		if err := c.AddResource(resourceURL, doc); err != nil {
			gatePlanSchemaErr = fmt.Errorf("queue: add gate plan schema resource: %w", err)
			return
		}
		sch, err := c.Compile(resourceURL)
		if err != nil {
			gatePlanSchemaErr = fmt.Errorf("queue: compile gate plan schema: %w", err)
			return
		}
		gatePlanSchema = sch
	})
	return gatePlanSchema, gatePlanSchemaErr
}

// ValidateGatePlan checks that plan's envelope (its level/gate-name
// structure) matches the shape the core needs to route verification
// results; the gate bodies themselves are never inspected. Called by
// Enqueue so a malformed plan is rejected at admission, not mid-run.
func ValidateGatePlan(plan json.RawMessage) error {
	if len(bytes.TrimSpace(plan)) == 0 {
		return agenterr.New(agenterr.KindPolicyViolation, "queue: verification gate plan is required")
	}
	schema, err := compiledGatePlanSchema()
	if err != nil {
		return agenterr.Wrap(agenterr.KindSystem, "queue: gate plan schema unavailable", err)
	}
	var v any
	if err := json.Unmarshal(plan, &v); err != nil {
		return agenterr.Wrap(agenterr.KindPolicyViolation, "queue: gate plan is not valid JSON", err)
	}
	if err := schema.Validate(v); err != nil {
		return agenterr.Wrap(agenterr.KindPolicyViolation, "queue: gate plan envelope failed schema validation", err)
	}
	return nil
}
