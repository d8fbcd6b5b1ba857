package cmd

import (
	"os"

	"github.com/SanteonNL/fhirloader/fhirsync"
	"github.com/SanteonNL/fhirloader/lib/coolfhir"
	"github.com/SanteonNL/fhirloader/lib/faults"
	"github.com/SanteonNL/fhirloader/lib/logging"
	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

// NewRootCommand returns the fhirloader command. Flags override the FHIRLOADER_* environment variables.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fhirloader",
		Short: "Load tagged sample data into a FHIR server, or remove it again",
		Long: "fhirloader uploads the JSON files of a data directory to a FHIR server as batch Bundles, " +
			"in dependency order (Organizations before the resources referencing them). " +
			"Every resource is tagged, so a later run can delete everything it created with --delete-all.",
		Version:       Version,
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := LoadConfig(cmd.Flags())
			if err != nil {
				return faults.Setup("failed to load configuration", err)
			}
			if err := config.Validate(); err != nil {
				return faults.Setup("invalid configuration", err)
			}
			logging.Configure(config.LogLevel, os.Stderr)
			return NewRunner(*config, cmd.OutOrStdout()).Run(cmd.Context())
		},
	}

	flags := cmd.Flags()
	flags.String("server-url", "", "Base URL of the FHIR server, e.g. https://example.com/fhir (env: FHIRLOADER_FHIR_URL)")
	flags.String("files", ".", "Directory containing the data files (env: FHIRLOADER_DATA_DIR)")
	flags.Bool("delete-all", false, "Delete all tagged resources from the FHIR server before loading (env: FHIRLOADER_DELETE)")
	flags.Bool("no-load", false, "Don't load the data files, use with --delete-all to only clean up the FHIR server")
	flags.StringSlice("resource-type", nil, "Only load files containing these resource types, can be repeated (env: FHIRLOADER_RESOURCETYPES)")
	flags.String("tag-code", coolfhir.DefaultTagCode, "Code of the tag added to every resource (env: FHIRLOADER_TAG_CODE)")
	flags.String("tag-system", coolfhir.DefaultTagSystem, "System of the tag added to every resource (env: FHIRLOADER_TAG_SYSTEM)")
	flags.Int("page-size", fhirsync.DefaultPageSize, "Number of resources per search page and delete batch (env: FHIRLOADER_PAGESIZE)")
	flags.String("log-level", "info", "Log level: trace, debug, info, warn, error (env: FHIRLOADER_LOGLEVEL)")
	flags.Bool("strict", false, "Exit with code 4 when any file, batch or entry failed (env: FHIRLOADER_STRICTMODE)")
	flags.String("auth-type", "", "FHIR server authentication: bearer, azure-default, azure-cli, azure-managedidentity, smart-backend (env: FHIRLOADER_FHIR_AUTH_TYPE)")
	return cmd
}
