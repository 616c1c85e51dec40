package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/arloliu/go-hislip/hislipclient"
)

func newRootCmd() *cobra.Command {
	cfg := defaultConfig()
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "hislipctl",
		Short:         "A HiSLIP instrument client",
		Long:          `hislipctl opens a HiSLIP session to an instrument, runs one operation and closes the session.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if configPath == "" {
				return nil
			}

			fileCfg, err := loadConfig(configPath, defaultConfig())
			if err != nil {
				return err
			}

			// flags given on the command line win over the file
			flags := cmd.Flags()
			if flags.Changed("host") {
				fileCfg.Host = cfg.Host
			}
			if flags.Changed("port") {
				fileCfg.Port = cfg.Port
			}
			if flags.Changed("sub-address") {
				fileCfg.SubAddress = cfg.SubAddress
			}
			if flags.Changed("timeout") {
				fileCfg.ReadTimeout = cfg.ReadTimeout
			}
			if flags.Changed("log-level") {
				fileCfg.LogLevel = cfg.LogLevel
			}
			cfg = fileCfg

			return nil
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "TOML configuration file")
	pf.StringVar(&cfg.Host, "host", "", "Instrument host name or address")
	pf.IntVar(&cfg.Port, "port", cfg.Port, "Instrument HiSLIP port")
	pf.StringVar(&cfg.SubAddress, "sub-address", cfg.SubAddress, "HiSLIP sub-address, e.g. hislip0")
	pf.DurationVar(&cfg.ReadTimeout, "timeout", cfg.ReadTimeout, "Response timeout")
	pf.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")

	rootCmd.AddCommand(
		newQueryCmd(&cfg),
		newWriteCmd(&cfg),
		newStatusCmd(&cfg),
		newLockInfoCmd(&cfg),
		newClearCmd(&cfg),
	)

	return rootCmd
}

func newQueryCmd(cfg *config) *cobra.Command {
	return &cobra.Command{
		Use:   "query COMMAND",
		Short: "Send a command and print the response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), cfg, func(s *hislipclient.Session) error {
				resp, err := s.Query(terminate(args[0]), cfg.ReadTimeout)
				if err != nil {
					return err
				}

				fmt.Fprintln(cmd.OutOrStdout(), strings.TrimRight(string(resp), "\r\n"))

				return nil
			})
		},
	}
}

func newWriteCmd(cfg *config) *cobra.Command {
	return &cobra.Command{
		Use:   "write COMMAND",
		Short: "Send a command without reading a response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), cfg, func(s *hislipclient.Session) error {
				return s.Write(terminate(args[0]))
			})
		},
	}
}

func newStatusCmd(cfg *config) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the status byte and the session parameters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd.Context(), cfg, func(s *hislipclient.Session) error {
				status, err := s.Status(cmd.Context())
				if err != nil {
					return err
				}

				renderSnapshot(cmd.OutOrStdout(), s.Snapshot(), status)

				return nil
			})
		},
	}
}

func newLockInfoCmd(cfg *config) *cobra.Command {
	return &cobra.Command{
		Use:   "lock-info",
		Short: "Print the locks held on the instrument",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd.Context(), cfg, func(s *hislipclient.Session) error {
				info, err := s.LockInfo(cmd.Context())
				if err != nil {
					return err
				}

				fmt.Fprintf(cmd.OutOrStdout(), "exclusive: %t\nholders: %d\n", info.Exclusive, info.Holders)

				return nil
			})
		},
	}
}

func newClearCmd(cfg *config) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Clear the instrument input and output buffers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd.Context(), cfg, func(s *hislipclient.Session) error {
				return s.DeviceClear(cmd.Context())
			})
		},
	}
}

// withSession opens a session, runs fn and closes the session.
func withSession(ctx context.Context, cfg *config, fn func(s *hislipclient.Session) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Host == "" {
		return errors.New("no instrument host, use --host or the host key of the config file")
	}

	connCfg, err := cfg.connectionConfig()
	if err != nil {
		return err
	}

	s, err := hislipclient.Open(ctx, connCfg)
	if err != nil {
		return err
	}
	defer s.Close()

	return fn(s)
}

// terminate appends the newline terminator expected by most instruments.
func terminate(cmd string) string {
	if strings.HasSuffix(cmd, "\n") {
		return cmd
	}

	return cmd + "\n"
}

func renderSnapshot(w io.Writer, snap hislipclient.Snapshot, status byte) {
	tw := tablewriter.NewWriter(w)
	tw.SetAutoWrapText(false)
	tw.SetHeader([]string{"Parameter", "Value"})

	rows := [][]string{
		{"Address", snap.Addr},
		{"State", snap.State.String()},
		{"Session ID", fmt.Sprintf("0x%04x", snap.SessionID)},
		{"Protocol Version", snap.Version.String()},
		{"Server Version", snap.ServerVersion.String()},
		{"Server Vendor", snap.ServerVendorID.String()},
		{"Overlapped", fmt.Sprintf("%t", snap.Overlap)},
		{"Max Message Size", fmt.Sprintf("%d", snap.MaxMessageSize)},
		{"Next Message ID", fmt.Sprintf("0x%08x", snap.NextSyncID)},
		{"Pending Queries", fmt.Sprintf("%d", len(snap.PendingQueries))},
		{"Lock", snap.Lock.String()},
		{"Status Byte", fmt.Sprintf("0x%02x", status)},
		{"Service Requests", fmt.Sprintf("%d", snap.ServiceRequests)},
	}
	if snap.Err != nil {
		rows = append(rows, []string{"Error", snap.Err.Error()})
	}

	tw.AppendBulk(rows)
	tw.Render()
}

