// Command atlasd runs the master server over HTTP.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/hashicorp/go-envparse"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/spf13/pflag"

	"github.com/Alainx277/northstar-master-server/internal/api"
	"github.com/Alainx277/northstar-master-server/internal/broker"
	"github.com/Alainx277/northstar-master-server/internal/config"
	"github.com/Alainx277/northstar-master-server/internal/pdata"
	"github.com/Alainx277/northstar-master-server/internal/prober"
	"github.com/Alainx277/northstar-master-server/internal/registry"
	"github.com/Alainx277/northstar-master-server/internal/store"
)

var opt struct {
	Help bool
}

func init() {
	pflag.BoolVarP(&opt.Help, "help", "h", false, "Show this help text")
}

func main() {
	pflag.Parse()

	if pflag.NArg() > 1 || opt.Help {
		fmt.Printf("usage: %s [options] [env_file]\n\noptions:\n%s\nnote: if env_file is provided, config from the environment is ignored\n", os.Args[0], pflag.CommandLine.FlagUsages())
		if opt.Help {
			os.Exit(2)
		}
		os.Exit(0)
	}

	var e []string
	if pflag.NArg() == 0 {
		e = os.Environ()
	} else {
		x, err := readEnv(pflag.Arg(0))
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: read env file: %v\n", err)
			os.Exit(1)
		}
		e = x
	}

	var c config.Config
	if err := c.UnmarshalEnv(e); err != nil {
		fmt.Fprintf(os.Stderr, "error: parse config: %v\n", err)
		os.Exit(1)
	}

	logger := configureLogging(&c)

	if err := run(&c, logger); err != nil {
		logger.Fatal().Err(err).Msg("fatal error")
	}
}

func readEnv(name string) ([]string, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := envparse.Parse(f)
	if err != nil {
		return nil, err
	}

	var r []string
	for k, v := range m {
		r = append(r, k+"="+v)
	}
	return r, nil
}

func configureLogging(c *config.Config) zerolog.Logger {
	if c.LogPretty {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).Level(c.LogLevel).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).Level(c.LogLevel).With().Timestamp().Logger()
}

func run(c *config.Config, logger zerolog.Logger) error {
	defaultBlob, err := os.ReadFile(c.DefaultBlobPath)
	if err != nil {
		return fmt.Errorf("read default blob: %w", err)
	}

	schema, err := pdata.Schema()
	if err != nil {
		return fmt.Errorf("parse persistence schema: %w", err)
	}
	if _, err := pdata.Decode(schema, defaultBlob); err != nil {
		return fmt.Errorf("validate default blob: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, c.DatabaseURL, defaultBlob)
	if err != nil {
		return fmt.Errorf("open account store: %w", err)
	}
	defer st.Close()

	reg := registry.New(c.MaxServersPerHost)

	br := broker.New(st, reg, len(defaultBlob))
	br.InsecureDevNoCheckPlayerAuth = c.InsecureDevNoCheckPlayerAuth
	if c.InsecureDevNoCheckPlayerAuth {
		logger.Warn().Msg("player authentication checks are disabled, do not run this in production")
	}

	h := &api.Handler{
		Broker:                 br,
		Registry:               reg,
		Store:                  st,
		Prober:                 &prober.Prober{},
		Schema:                 schema,
		DefaultBlob:            defaultBlob,
		MinimumLauncherVersion: c.LauncherVersion,
		MainMenuPromosHook: func(r *http.Request) (json.RawMessage, error) {
			buf, err := os.ReadFile(c.MainMenuPromosPath)
			if err != nil {
				return nil, err
			}
			return json.RawMessage(buf), nil
		},
		NotFound: http.HandlerFunc(serveMetrics),
	}

	var m middlewares
	m.Add(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		e := logger.Info()
		if rid, ok := hlog.IDFromRequest(r); ok {
			e = e.Stringer("rid", rid)
		}
		e.
			Str("request_ip", r.RemoteAddr).
			Str("request_host", r.Host).
			Str("request_method", r.Method).
			Stringer("request_uri", r.URL).
			Str("request_user_agent", r.UserAgent()).
			Int("response_status", status).
			Int("response_size", size).
			Dur("response_duration", duration).
			Msg("handle request")
	}))
	m.Add(hlog.NewHandler(logger))
	m.Add(hlog.RequestIDHandler("rid", ""))
	handler := m.Then(h)

	srv := &http.Server{
		Addr:    c.Addr,
		Handler: handler,
	}

	errch := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", c.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errch <- err
			return
		}
		errch <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return <-errch
	case err := <-errch:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	}
}

func serveMetrics(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/metrics" {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}
	metrics.WritePrometheus(w, true)
}
