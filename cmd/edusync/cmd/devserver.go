package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nabhalearn/edusync/internal/config"
	"github.com/nabhalearn/edusync/internal/remote"
	"github.com/nabhalearn/edusync/internal/remote/devserver"
	"github.com/nabhalearn/edusync/internal/remote/redisstore"
)

func newDevServerCmd(opts *rootOptions) *cobra.Command {
	var (
		addr    string
		backend string
	)

	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Run a development remote store over HTTP",
		Long: `Serve the remote API that the http remote kind talks to, backed by an
in-process memory store or by Redis (remote.redis_*).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if addr == "" {
				addr = opts.cfg.DevServer.Addr
			}

			var store remote.Store
			switch backend {
			case config.RemoteMemory:
				store = remote.NewMemoryStore()
			case config.RemoteRedis:
				rs := redisstore.New(redisstore.Config{
					Addr:     opts.cfg.Remote.RedisAddr,
					Password: opts.cfg.Remote.RedisPassword,
					DB:       opts.cfg.Remote.RedisDB,
				})
				defer rs.Close()
				store = rs
			default:
				return fmt.Errorf("unknown backend %q (want memory or redis)", backend)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s on %s (%s backend)\n", color.GreenString("Development remote listening"), addr, backend)
			return devserver.New(store, opts.log).ListenAndServe(ctx, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default devserver.addr)")
	cmd.Flags().StringVar(&backend, "backend", config.RemoteMemory, "record backend: memory or redis")
	return cmd
}
