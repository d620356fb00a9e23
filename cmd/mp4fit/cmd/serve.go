package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/mp4fit/pkg/agent"
	"github.com/psantana5/mp4fit/pkg/api"
	"github.com/psantana5/mp4fit/pkg/cleanup"
	"github.com/psantana5/mp4fit/pkg/logging"
	"github.com/psantana5/mp4fit/pkg/metrics"
	"github.com/psantana5/mp4fit/pkg/shutdown"
	tlsconfig "github.com/psantana5/mp4fit/pkg/tls"
	"github.com/psantana5/mp4fit/pkg/tracing"
)

// serveCmd runs the HTTP conversion service
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the conversion service",
	Long: `Run the HTTP conversion service. Conversions are submitted with
POST /v1/conversions and report their progress to an optional callback URL.
Prometheus metrics are exposed on /metrics.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	flags := serveCmd.Flags()
	flags.String("listen", "", "listen address (default :8090)")
	flags.String("public-dir", "", "directory that receives a durable copy of every artifact")
	flags.String("public-base-url", "", "base URL the public directory is served under")
	flags.Int("max-concurrent-jobs", 0, "maximum running conversions (default 2)")
	flags.Int64("size-ceiling", 0, "artifacts above this many bytes are delivered as links")
	flags.String("preset", "", "libx264 preset or auto")
	flags.Int("width", 0, "target canvas width")
	flags.Int("height", 0, "target canvas height")
}

func runServe(cmd *cobra.Command, args []string) error {
	defer logger.Close()
	ctx := cmd.Context()
	tlsConf, err := serverTLS()
	if err != nil {
		return err
	}
	mgr := shutdown.New(cfg.ShutdownTimeout, logger)

	tp, err := tracing.InitTracer(cfg.Tracing, logger)
	if err != nil {
		logger.Warn("Tracing unavailable, continuing without it", logging.Fields{"error": err.Error()})
		tp = tracing.Noop()
	}
	mgr.Register("tracing", tp.Shutdown)

	m := metrics.New()
	orch, err := newOrchestrator(cfg.Orchestrator(), m, tp)
	if err != nil {
		mgr.Shutdown()
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	// Detect once up front so the first job does not pay for it
	capability := orch.Detector().Detect(ctx)

	janitor := cleanup.New(cfg.JanitorConfig(), orch.ActivePaths, logger)
	janitor.OnFailure = func(path string, err error) {
		m.CleanupFailure("janitor")
	}
	janitor.Start(ctx)
	mgr.Register("janitor", func(context.Context) error {
		janitor.Stop()
		return nil
	})
	mgr.Register("conversions", orch.Shutdown)

	handler := api.NewHandler(orch, cfg.FFmpegPath, m, tp, logger)
	handler.SetWebhookOptions(cfg.WebhookOptions())
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
		TLSConfig:         tlsConf,
	}
	mgr.Register("http server", shutdown.StopHTTPServer(srv))

	printBanner(capability)

	go func() {
		var err error
		if srv.TLSConfig != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", logging.Fields{"error": err.Error()})
			mgr.Trigger()
		}
	}()

	return mgr.WaitWithContext(ctx)
}

// serverTLS returns nil when HTTPS is not configured
func serverTLS() (*tls.Config, error) {
	if !cfg.TLS.Enabled() {
		return nil, nil
	}
	if cfg.TLS.SelfSigned {
		created, err := tlsconfig.EnsureSelfSigned(cfg.TLS.CertFile, cfg.TLS.KeyFile, "mp4fit")
		if err != nil {
			return nil, err
		}
		if created {
			logger.Warn("Generated self-signed certificate", logging.Fields{"cert": cfg.TLS.CertFile})
		}
	}
	return tlsconfig.ServerConfig(cfg.TLS)
}

func printBanner(capability agent.EncoderCapability) {
	oc := cfg.Orchestrator()
	ceiling := "disabled"
	if oc.SizeCeilingBytes > 0 {
		ceiling = fmt.Sprintf("%.1f MB", float64(oc.SizeCeilingBytes)/(1024*1024))
	}
	public := oc.PublicDir
	if public == "" {
		public = "disabled"
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Setting", "Value")
	table.Append([]string{"Listen", cfg.ListenAddr})
	table.Append([]string{"TLS", boolToYesNo(cfg.TLS.Enabled())})
	table.Append([]string{"FFmpeg", cfg.FFmpegPath})
	table.Append([]string{"Encoder", capability.Encoder})
	table.Append([]string{"Hardware verified", boolToYesNo(capability.FunctionallyVerified)})
	table.Append([]string{"Detection", capability.Reason()})
	table.Append([]string{"Software preset", oc.Encode.SoftwarePreset})
	table.Append([]string{"Target", oc.Target.String()})
	table.Append([]string{"Size ceiling", ceiling})
	table.Append([]string{"Max concurrent jobs", fmt.Sprintf("%d", oc.MaxConcurrentJobs)})
	table.Append([]string{"Work dir", oc.WorkDir})
	table.Append([]string{"Public dir", public})
	table.Render()

	fmt.Println("API endpoints:")
	fmt.Println("  POST   /v1/conversions")
	fmt.Println("  GET    /v1/conversions")
	fmt.Println("  GET    /v1/conversions/{caller}/{input}")
	fmt.Println("  DELETE /v1/conversions/{caller}/{input}")
	fmt.Println("  POST   /v1/deliveries")
	fmt.Println("  GET    /v1/capability")
	fmt.Println("  POST   /v1/capability/revalidate")
	fmt.Println("  GET    /health, /ready, /metrics")
}
