package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"

	"github.com/concertohq/concerto/pkg/config"
)

// SchemaCmd generates JSON Schema from the configuration structs. Output goes
// to stdout so it can be redirected.
type SchemaCmd struct {
	Compact bool `help:"Compact JSON output (no indentation)."`
}

func (c *SchemaCmd) Run(cli *CLI) error {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	schema := reflector.Reflect(&config.Config{})
	schema.ID = "https://concertohq.dev/schemas/config.json"
	schema.Title = "Concerto Configuration Schema"
	schema.Description = "Complete configuration schema for the concerto collaboration engine"
	schema.Version = "http://json-schema.org/draft-07/schema#"
	schema.Examples = []interface{}{
		map[string]interface{}{
			"name": "review-board",
			"workers": map[string]interface{}{
				"writer": map[string]interface{}{
					"type":     "http",
					"endpoint": "http://localhost:9001/invoke",
				},
				"critic": map[string]interface{}{
					"type":     "http",
					"endpoint": "http://localhost:9002/invoke",
				},
			},
			"synthesis": map[string]interface{}{
				"worker": "writer",
			},
			"audit": map[string]interface{}{
				"backend": "sqlite",
				"dsn":     "./concerto.db",
			},
		},
	}

	encoder := json.NewEncoder(os.Stdout)
	if !c.Compact {
		encoder.SetIndent("", "  ")
	}
	if err := encoder.Encode(schema); err != nil {
		return fmt.Errorf("failed to encode schema: %w", err)
	}
	return nil
}
