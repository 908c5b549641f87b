package cmd

import "github.com/spf13/cobra"

func newServeCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP trigger endpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, *cfgFile)
		},
	}
}

func runServe(cmd *cobra.Command, cfgFile string) error {
	app, err := buildFromFlags(cmd.Context(), cfgFile)
	if err != nil {
		return err
	}
	return app.Run(cmd.Context())
}
