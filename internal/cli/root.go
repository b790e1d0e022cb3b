package cli

import (
	"github.com/spf13/cobra"

	"github.com/feichai0017/pdf-alttext/config"
	"github.com/feichai0017/pdf-alttext/internal/app"
	"github.com/feichai0017/pdf-alttext/pkg/logger"
)

type options struct {
	envFile    string
	configFile string

	cfg *config.Config
	log logger.Logger
}

func NewRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "pdf-alttext",
		Short: "Extract images from PDFs and generate accessibility alt text",
		Long: `pdf-alttext runs the extraction and alt-text pipeline without the HTTP service.

Sessions are created under the configured sessions directory, so artifacts
produced here can also be served by the server.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.envFile, opts.configFile)
			if err != nil {
				return err
			}
			log, err := app.NewLogger(cfg.Log)
			if err != nil {
				return err
			}
			opts.cfg, opts.log = cfg, log
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.log != nil {
				_ = opts.log.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file to load; missing is fine")
	cmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "optional YAML config overlay")

	cmd.AddCommand(newRunCmd(opts))
	cmd.AddCommand(newReapCmd(opts))

	return cmd
}
