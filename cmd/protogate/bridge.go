package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/protogate/protogate/pkg/bridge"
	"github.com/protogate/protogate/pkg/dynamic"
	"github.com/protogate/protogate/pkg/schema"
)

type bridgeConfig struct {
	// Listen is the HTTP listen address, default ":8080".
	Listen string `yaml:"listen"`

	// Services are the upstream gRPC services to expose.
	Services []bridgeService `yaml:"services"`
}

type bridgeService struct {
	// Host is the upstream gRPC address.
	Host string `yaml:"host"`

	// Service is the fully qualified service name to discover.
	Service string `yaml:"service"`

	// Prefix is the HTTP mount prefix, default "/" + service.
	Prefix string `yaml:"prefix"`

	// MaxRetries bounds retries of transient upstream failures.
	MaxRetries *uint64 `yaml:"max_retries"`

	// ProtoFiles compiles the schema locally instead of discovering it over
	// reflection, for upstreams that do not serve reflection.
	ProtoFiles []string `yaml:"proto_files"`

	// ImportPaths are extra directories searched for proto imports.
	ImportPaths []string `yaml:"import_paths"`
}

func loadBridgeConfig(path string) (*bridgeConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := &bridgeConfig{Listen: ":8080"}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if len(cfg.Services) == 0 {
		return nil, errors.New("config declares no services")
	}
	for i := range cfg.Services {
		svc := &cfg.Services[i]
		if svc.Host == "" || svc.Service == "" {
			return nil, fmt.Errorf("service %d: host and service are required", i)
		}
		if svc.Prefix == "" {
			svc.Prefix = "/" + svc.Service
		}
	}
	return cfg, nil
}

func newBridgeCmd(flags *rootFlags) *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "bridge",
		Short: "Serve upstream gRPC services as HTTP JSON endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadBridgeConfig(configPath)
			if err != nil {
				return err
			}
			return runBridge(cmd.Context(), cfg, flags)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "protogate.yaml", "path to the bridge config file")
	return cmd
}

func runBridge(ctx context.Context, cfg *bridgeConfig, flags *rootFlags) error {
	log := flags.logger()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	mux := http.NewServeMux()
	for _, svc := range cfg.Services {
		var opts []dynamic.Option
		if svc.MaxRetries != nil {
			opts = append(opts, dynamic.WithMaxRetries(*svc.MaxRetries))
		}
		opts = append(opts, dynamic.WithLogger(log))

		client, err := buildClient(ctx, svc, opts)
		if err != nil {
			return fmt.Errorf("mounting %s at %s: %w", svc.Service, svc.Host, err)
		}
		defer client.Close()

		bridge.New(client,
			bridge.WithPrefix(svc.Prefix),
			bridge.WithLogger(log),
		).Mount(mux)
		log.Info("mounted service", "service", svc.Service, "host", svc.Host, "prefix", svc.Prefix)
	}

	return serveHTTP(ctx, cfg.Listen, mux, log)
}

// buildClient discovers the upstream over reflection, or compiles the schema
// locally when proto files are configured.
func buildClient(ctx context.Context, svc bridgeService, opts []dynamic.Option) (*dynamic.Client, error) {
	if len(svc.ProtoFiles) == 0 {
		return dynamic.Dial(ctx, svc.Host, svc.Service, opts...)
	}
	sch, err := schema.ParseFiles(ctx, svc.ProtoFiles, svc.ImportPaths)
	if err != nil {
		return nil, err
	}
	service, err := sch.Service(svc.Service)
	if err != nil {
		return nil, err
	}
	return dynamic.DialDescriptor(svc.Host, service.Descriptor(), opts...)
}

func serveHTTP(ctx context.Context, listen string, mux *http.ServeMux, log *slog.Logger) error {
	srv := &http.Server{Addr: listen, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		log.Info("bridge listening", "addr", listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
