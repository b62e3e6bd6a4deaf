package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/weftdb/weft/internal/node"
	"github.com/weftdb/weft/internal/store"
	"github.com/weftdb/weft/internal/wid"
)

var (
	publishTestSchema string
	publishTestFields []string
)

var publishTestCmd = &cobra.Command{
	Use:   "publish-test",
	Short: "Author and publish one CREATE operation as a smoke test",
	Long: `publish-test signs and publishes a single CREATE operation under
this node's own identity, then enqueues it for materialization, exercising
the full publish -> ingest -> reduce/dependency path end to end.`,
	RunE: runPublishTest,
}

func init() {
	publishTestCmd.Flags().StringVar(&publishTestSchema, "schema", "", "schema id to publish under (required)")
	publishTestCmd.Flags().StringArrayVar(&publishTestFields, "field", nil, "field as name=value; repeatable, string-valued")
	_ = publishTestCmd.MarkFlagRequired("schema")
}

func runPublishTest(cmd *cobra.Command, args []string) error {
	fields, err := parseStringFields(publishTestFields)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	n, err := node.Open(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer n.Shutdown()

	result, err := n.Author(cmd.Context(), store.ActionCreate, wid.SchemaId(publishTestSchema), fields, nil)
	if err != nil {
		return err
	}

	fmt.Printf("document_id: %s\n", result.DocumentId)
	fmt.Printf("log_id:      %d\n", result.LogId)
	fmt.Printf("seq_num:     %d\n", result.SeqNum)
	return nil
}

func parseStringFields(raw []string) (store.OperationFields, error) {
	fields := make(store.OperationFields, len(raw))
	for _, kv := range raw {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("publish-test: --field %q must be name=value", kv)
		}
		fields[name] = store.FieldValue{Kind: store.ValueString, Str: value}
	}
	return fields, nil
}
