package cli

import (
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"

	"github.com/ppiankov/tribuna/internal/model"
)

// schemaCmd prints the JSON Schema of compiled documents
var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the compiled-document JSON Schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := documentSchema()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
		return err
	},
}

// documentSchema reflects model.Document. Node is recursive, so definitions
// are kept as references.
func documentSchema() ([]byte, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
	}
	schema := reflector.Reflect(&model.Document{})
	schema.ID = jsonschema.ID("https://github.com/ppiankov/tribuna/schema/" + model.SchemaVersion)
	schema.Title = "Tribuna compiled debate"
	b, err := schema.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return b, nil
}

func init() {
	rootCmd.AddCommand(schemaCmd)
}
