package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/cloudflare-tunnels-operator/cloudflare-tunnels-operator/internal/controller"
)

//nolint:gochecknoglobals // set by SetVersion from main
var (
	version = "development"
	gitsha  = "development"
)

func SetVersion(ver, sha string) {
	version = ver
	gitsha = sha
}

//nolint:gochecknoglobals // cobra command pattern
var rootCmd = &cobra.Command{
	Use:   "cloudflare-tunnels-operator",
	Short: "Kubernetes operator exposing Services via Cloudflare Tunnels",
	Long: `A Kubernetes operator that provisions Cloudflare Tunnels from ClusterTunnel
resources. It watches Ingress objects, translates their rules into tunnel
ingress configuration and DNS records, and optionally runs the cloudflared
connector in the cluster.`,
	RunE:          runOperator,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "Log format (json, text)")

	rootCmd.Flags().String("ingress-class", "", "Only manage Ingresses with this class (empty manages all)")
	rootCmd.Flags().String("namespace", "", "Operator namespace for Secrets and connector workloads (or POD_NAMESPACE env var)")
	rootCmd.Flags().String("cluster-domain", "cluster.local", "Kubernetes cluster domain")
	rootCmd.Flags().String("metrics-addr", ":8080", "Address for metrics endpoint")
	rootCmd.Flags().String("health-addr", ":2000", "Address for the /health endpoint")

	// Leader election flags
	rootCmd.Flags().Bool("leader-elect", false, "Enable leader election for high availability")
	rootCmd.Flags().String("leader-election-namespace", "", "Namespace for leader election lease (defaults to operator namespace)")
	rootCmd.Flags().String("leader-election-name", "cloudflare-tunnels-operator-leader", "Name of the leader election lease")

	// Connector flags
	rootCmd.Flags().Bool("manage-cloudflared", true, "Deploy and manage cloudflared connectors")
	rootCmd.Flags().String("cloudflared-image", "", "Override the cloudflared connector image")

	_ = viper.BindPFlags(rootCmd.Flags())
	_ = viper.BindPFlags(rootCmd.PersistentFlags())
}

func initConfig() {
	viper.SetEnvPrefix("CF")
	viper.AutomaticEnv()

	viper.SetDefault("cluster-domain", "cluster.local")
	viper.SetDefault("metrics-addr", ":8080")
	viper.SetDefault("health-addr", ":2000")
	viper.SetDefault("log-level", "info")
	viper.SetDefault("log-format", "json")
	viper.SetDefault("leader-elect", false)
	viper.SetDefault("leader-election-name", "cloudflare-tunnels-operator-leader")
	viper.SetDefault("manage-cloudflared", true)
}

func Execute() error {
	return errors.Wrap(rootCmd.Execute(), "command execution failed")
}

func setupLogger() *slog.Logger {
	level := slog.LevelInfo

	switch viper.GetString("log-level") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if viper.GetString("log-format") == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

//nolint:noinlineerr // inline error handling is fine here
func runOperator(_ *cobra.Command, _ []string) error {
	logger := setupLogger()
	slog.SetDefault(logger)

	ctrl.SetLogger(logr.FromSlogHandler(logger.Handler()))

	logger.Info("starting cloudflare-tunnels-operator",
		"version", version,
		"gitsha", gitsha,
	)

	namespace := viper.GetString("namespace")
	if namespace == "" {
		namespace = os.Getenv("POD_NAMESPACE")
	}

	if namespace == "" {
		return errors.New("namespace is required (use --namespace or POD_NAMESPACE env var)")
	}

	cfg := controller.Config{
		IngressClass:      viper.GetString("ingress-class"),
		OperatorNamespace: namespace,
		ClusterDomain:     viper.GetString("cluster-domain"),
		MetricsAddr:       viper.GetString("metrics-addr"),
		HealthAddr:        viper.GetString("health-addr"),

		LeaderElect:     viper.GetBool("leader-elect"),
		LeaderElectNS:   viper.GetString("leader-election-namespace"),
		LeaderElectName: viper.GetString("leader-election-name"),

		ManageCloudflared: viper.GetBool("manage-cloudflared"),
		CloudflaredImage:  viper.GetString("cloudflared-image"),
	}

	if cfg.LeaderElectNS == "" {
		cfg.LeaderElectNS = namespace
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := controller.Run(ctx, &cfg); err != nil {
		return errors.Wrap(err, "failed to run operator")
	}

	return nil
}
