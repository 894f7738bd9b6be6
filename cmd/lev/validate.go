package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/danield137/lev/pkg/config"
	"github.com/danield137/lev/runtime/evals"
)

const flagSchemaOnly = "schema-only"

func newValidateCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <suite.yaml>",
		Short: "Check a suite file without running it",
		Long: `Validates a suite against its JSON schema, then checks server references,
case ids, scorer parameters and execution settings.

Examples:
  lev validate suite.yaml
  lev validate suite.yaml --schema-only`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateSuite(cmd, v, args[0])
		},
	}
	cmd.Flags().Bool(flagSchemaOnly, false, "Only validate the schema")
	return cmd
}

func validateSuite(cmd *cobra.Command, v *viper.Viper, path string) error {
	out := cmd.OutOrStdout()
	s, err := config.LoadSuite(path)
	if err != nil {
		return err
	}
	if v.GetBool(flagSchemaOnly) {
		fmt.Fprintf(out, "%s matches the schema\n", filepath.Base(path))
		return nil
	}

	sv := config.NewSuiteValidator(s, evals.NewRegistry())
	err = sv.Validate()
	for _, w := range sv.Warnings() {
		fmt.Fprintf(out, "warning: %s\n", w)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s is valid (%d cases)\n", filepath.Base(path), len(s.Cases))
	return nil
}
