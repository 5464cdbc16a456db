package node

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/spf13/cobra"

	"github.com/spacemeshos/go-ibltsync/api"
	"github.com/spacemeshos/go-ibltsync/cmd"
	"github.com/spacemeshos/go-ibltsync/config"
	"github.com/spacemeshos/go-ibltsync/log"
	"github.com/spacemeshos/go-ibltsync/types"
)

// GetCommand returns the root command of the node executable.
func GetCommand() *cobra.Command {
	conf := config.DefaultConfig()
	var configPath *string
	c := &cobra.Command{
		Use:   "ibltsync",
		Short: "start node",
		RunE: func(c *cobra.Command, args []string) error {
			if err := cmd.Configure(c.Flags(), *configPath, &conf); err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			logger, err := log.New(conf.Logging, nil)
			if err != nil {
				return fmt.Errorf("create logger: %w", err)
			}
			defer logger.Sync()
			app := New(conf, WithLogger(log.Module(logger, conf.Logging, NodeLogger)))

			// os.Interrupt for all systems, syscall.SIGTERM is mainly for docker.
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := app.Lock(); err != nil {
				return fmt.Errorf("getting exclusive file lock: %w", err)
			}
			defer app.Unlock()
			if err := app.Initialize(); err != nil {
				return fmt.Errorf("initializing app: %w", err)
			}
			// Don't print usage on error from this point forward
			c.SilenceUsage = true

			err = app.Start(ctx)
			done := make(chan error, 1)
			go func() {
				done <- app.Cleanup()
			}()
			select {
			case cerr := <-done:
				err = errors.Join(err, cerr)
			case <-time.After(30 * time.Second):
				logger.Error("app failed to clean up in time")
			}
			return err
		},
	}
	configPath = cmd.AddFlags(c.PersistentFlags(), &conf)

	c.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(c *cobra.Command, args []string) {
			fmt.Println(cmd.Version, cmd.Commit)
		},
	})
	c.AddCommand(&cobra.Command{
		Use:   "identity",
		Short: "Print the peer ID of the node, creating the identity if it doesn't exist",
		RunE: func(c *cobra.Command, args []string) error {
			if err := cmd.Configure(c.Flags(), *configPath, &conf); err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if err := os.MkdirAll(conf.DataDir, 0o700); err != nil {
				return err
			}
			key, err := loadIdentity(filepath.Join(conf.DataDir, identityFile))
			if err != nil {
				return err
			}
			id, err := peer.IDFromPrivateKey(key)
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	})
	c.AddCommand(clientCommands(func(c *cobra.Command) (*api.Client, error) {
		if err := cmd.Configure(c.Flags(), *configPath, &conf); err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		if conf.API.Listen == "" {
			return nil, errors.New("api is disabled, set --api-listen")
		}
		return api.NewClient(conf.API.Listen), nil
	})...)
	return c
}

func clientCommands(client func(*cobra.Command) (*api.Client, error)) []*cobra.Command {
	return []*cobra.Command{
		{
			Use:   "put <value>",
			Short: "Publish a value on a running node",
			Args:  cobra.ExactArgs(1),
			RunE: func(c *cobra.Command, args []string) error {
				cl, err := client(c)
				if err != nil {
					return err
				}
				rec, err := cl.Publish(c.Context(), []byte(args[0]))
				if err != nil {
					return err
				}
				fmt.Println(rec.Key)
				return nil
			},
		},
		{
			Use:   "get <key>",
			Short: "Print the value of a record stored on a running node",
			Args:  cobra.ExactArgs(1),
			RunE: func(c *cobra.Command, args []string) error {
				key, err := hex.DecodeString(args[0])
				if err != nil {
					return fmt.Errorf("bad key %q: %w", args[0], err)
				}
				cl, err := client(c)
				if err != nil {
					return err
				}
				rec, err := cl.Get(c.Context(), types.Key(key))
				if err != nil {
					return err
				}
				fmt.Printf("%s %s\n", rec.Timestamp.Format(time.RFC3339Nano), rec.Value)
				return nil
			},
		},
		{
			Use:   "peers",
			Short: "Print the sessions of a running node",
			RunE: func(c *cobra.Command, args []string) error {
				cl, err := client(c)
				if err != nil {
					return err
				}
				infos, err := cl.Peers(c.Context())
				if err != nil {
					return err
				}
				for _, info := range infos {
					fmt.Printf("%s %s last contact %s wants %d\n",
						info.ID, info.State, info.LastContact.Format(time.RFC3339), info.Wants)
				}
				return nil
			},
		},
	}
}
