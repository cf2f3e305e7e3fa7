// Command latency is the raw-L2 latency tool: a server (responder) and a
// client (initiator) speaking the PING/PONG RTT protocol, or the TX/SYNC
// ONE_WAY protocol, over a raw AF_PACKET VLAN socket.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/tsnkit/tsnkit/internal/cliconfig"
	"github.com/tsnkit/tsnkit/pkg/perf"
	"github.com/tsnkit/tsnkit/pkg/tsnadmin"
	"github.com/tsnkit/tsnkit/pkg/tsnconfig"
	"github.com/tsnkit/tsnkit/pkg/tsnlog"
	"github.com/tsnkit/tsnkit/pkg/tsnsock"
	"github.com/tsnkit/tsnkit/pkg/yamldoc"
)

const (
	defaultVlanID     = 10
	defaultPrio       = 3
	defaultInterval   = 700 * time.Millisecond
	defaultJitter     = 10 * time.Millisecond
	defaultPacketSize = 64
	defaultCount      = 100
)

var (
	configPath string
	debug      bool
)

func main() {
	root := &cobra.Command{
		Use:          "latency",
		Short:        "Raw-L2 latency measurement (RTT or one-way)",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	root.AddCommand(serverCmd(), clientCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadNicConfig(nic string) (*tsnconfig.NicConfig, error) {
	doc, err := yamldoc.Load(cliconfig.Resolve(configPath))
	if err != nil {
		return nil, err
	}
	reg, err := tsnconfig.Normalize(doc)
	if err != nil {
		return nil, err
	}
	cfg, ok := reg[nic]
	if !ok {
		return nil, fmt.Errorf("latency: no config for nic %q", nic)
	}
	return cfg, nil
}

func openRawSocket(ctx context.Context, nic string, vlanID, prio int) (*tsnsock.Socket, error) {
	cfg, err := loadNicConfig(nic)
	if err != nil {
		return nil, err
	}
	log := tsnlog.New("latency", debug)
	admin := tsnadmin.New(log)
	return tsnsock.Open(ctx, nic, vlanID, prio, perf.EtherType, cfg, admin, log)
}

func interfaceMAC(nic string) ([6]byte, error) {
	var mac [6]byte
	iface, err := net.InterfaceByName(nic)
	if err != nil {
		return mac, err
	}
	copy(mac[:], iface.HardwareAddr)
	return mac, nil
}

func notifyContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		<-sig
		cancel()
	}()
	return ctx, cancel
}

func serverCmd() *cobra.Command {
	var nic string
	var oneway bool
	var vlanID, prio int
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Respond to latency probes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := notifyContext()
			defer cancel()

			sock, err := openRawSocket(ctx, nic, vlanID, prio)
			if err != nil {
				return err
			}
			defer sock.Close()

			srcMAC, err := interfaceMAC(nic)
			if err != nil {
				return err
			}
			// No peer MAC yet: RawTransport learns it from the first PING's
			// source address and replies there (spec §4.5.2).
			transport := perf.NewRawTransport(sock, srcMAC, [6]byte{}, perf.EtherType, true)
			responder := perf.NewLatencyResponder(transport, tsnlog.New("latency", debug))

			return responder.Run(ctx, func(s perf.LatencySample) {
				if oneway {
					fmt.Printf("%d: %s\n", s.ID, s.Elapsed)
				}
			})
		},
	}
	cmd.Flags().StringVarP(&nic, "interface", "i", "", "NIC name")
	cmd.Flags().BoolVarP(&oneway, "oneway", "o", false, "one-way mode (print elapsed one-way samples)")
	cmd.Flags().IntVar(&vlanID, "vlan-id", defaultVlanID, "measurement VLAN id")
	cmd.Flags().IntVar(&prio, "prio", defaultPrio, "socket priority")
	_ = cmd.MarkFlagRequired("interface")
	return cmd
}

func clientCmd() *cobra.Command {
	var nic, target string
	var oneway, precise bool
	var size, count int
	var interval, jitter time.Duration
	var vlanID, prio int
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Send latency probes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := notifyContext()
			defer cancel()

			sock, err := openRawSocket(ctx, nic, vlanID, prio)
			if err != nil {
				return err
			}
			defer sock.Close()

			srcMAC, err := interfaceMAC(nic)
			if err != nil {
				return err
			}
			dstMAC, err := net.ParseMAC(target)
			if err != nil {
				return fmt.Errorf("latency: invalid target MAC %q: %w", target, err)
			}
			var dst [6]byte
			copy(dst[:], dstMAC)

			transport := perf.NewRawTransport(sock, srcMAC, dst, perf.EtherType, true)
			mode := perf.RTT
			if oneway {
				mode = perf.OneWay
			}
			initiator := perf.NewLatencyInitiator(transport, mode, interval, jitter, precise, tsnlog.New("latency", debug))

			return initiator.Run(ctx, count, func(s perf.LatencySample) {
				if s.Lost {
					fmt.Printf("%d: TIMEOUT\n", s.ID)
					return
				}
				fmt.Printf("%d: %s\n", s.ID, s.Elapsed)
			})
		},
	}
	cmd.Flags().StringVarP(&nic, "interface", "i", "", "NIC name")
	cmd.Flags().StringVarP(&target, "target", "t", "", "target MAC address")
	cmd.Flags().BoolVarP(&oneway, "oneway", "o", false, "one-way mode")
	cmd.Flags().BoolVarP(&precise, "precise", "p", false, "sleep to the next second boundary between iterations")
	cmd.Flags().IntVarP(&size, "size", "s", defaultPacketSize, "frame size in bytes (unused past minimum header)")
	cmd.Flags().IntVarP(&count, "count", "n", defaultCount, "number of probes to send")
	cmd.Flags().DurationVar(&interval, "interval", defaultInterval, "base delay between probes")
	cmd.Flags().DurationVar(&jitter, "jitter", defaultJitter, "random jitter added to interval")
	cmd.Flags().IntVar(&vlanID, "vlan-id", defaultVlanID, "measurement VLAN id")
	cmd.Flags().IntVar(&prio, "prio", defaultPrio, "socket priority")
	_ = cmd.MarkFlagRequired("interface")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}
