package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"scanasha/internal/devserver"
)

var (
	devRoot string
	devPort int
)

var devServerCmd = &cobra.Command{
	Use:   "devserver",
	Short: "Serve the built extension and push hot reloads to the browser",
	Long: `Serves the extension bundle from the configured root directory and
watches the build output. Every added, changed or removed file is announced
to connected browsers over a WebSocket on the same port.`,
	Args: cobra.NoArgs,
	RunE: runDevServer,
}

func init() {
	devServerCmd.Flags().StringVar(&devRoot, "root", "", "Directory to serve (overrides devserver.root_dir)")
	devServerCmd.Flags().IntVar(&devPort, "port", 0, "Port to listen on (overrides devserver.port)")
}

func devServerOptions() devserver.Options {
	d := cfg.DevServer
	opts := devserver.Options{
		Host:           d.Host,
		Port:           d.Port,
		HMRTopic:       d.HMRTopic,
		RootDir:        d.RootDir,
		OutDir:         d.OutDir,
		EntryFile:      d.EntryFile,
		TargetFilePath: d.TargetFilePath,
		ExtensionName:  d.ExtensionName,
		CertFile:       d.CertFile,
		KeyFile:        d.KeyFile,
		Debounce:       cfg.GetDebounce(),
	}
	if devRoot != "" {
		opts.RootDir = devRoot
	}
	if devPort != 0 {
		opts.Port = devPort
	}
	return opts
}

func runDevServer(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	opts := devServerOptions()
	logger.Info("Starting dev server",
		zap.String("root", opts.RootDir),
		zap.String("out", opts.OutDir),
		zap.Int("port", opts.Port),
		zap.Bool("tls", opts.TLS()))
	return devserver.New(opts).Run(ctx)
}
