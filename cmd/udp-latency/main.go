// Command udp-latency is the UDP-transport counterpart to cmd/latency: the
// same PING/PONG and TX/SYNC protocol, carried as UDP payloads instead of
// raw Ethernet frames, so it needs no VLAN sub-interface or raw socket.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/tsnkit/tsnkit/internal/udplisten"
	"github.com/tsnkit/tsnkit/pkg/perf"
	"github.com/tsnkit/tsnkit/pkg/tsnlog"
)

const (
	defaultInterval   = 700 * time.Millisecond
	defaultJitter     = 10 * time.Millisecond
	defaultPacketSize = 64
	defaultCount      = 100
)

var debug bool

func main() {
	root := &cobra.Command{
		Use:          "udp-latency",
		Short:        "UDP latency measurement (RTT or one-way)",
		SilenceUsage: true,
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	root.AddCommand(serverCmd(), clientCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
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
	var listenAddr string
	var oneway bool
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Respond to latency probes over UDP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := notifyContext()
			defer cancel()

			addr, err := net.ResolveUDPAddr("udp", listenAddr)
			if err != nil {
				return err
			}
			conn, err := net.ListenUDP("udp", addr)
			if err != nil {
				return err
			}
			defer conn.Close()

			transport := udplisten.New(conn)
			responder := perf.NewLatencyResponder(transport, tsnlog.New("udp-latency", debug))

			return responder.Run(ctx, func(s perf.LatencySample) {
				if oneway {
					fmt.Printf("%d: %s\n", s.ID, s.Elapsed)
				}
			})
		},
	}
	cmd.Flags().StringVarP(&listenAddr, "listen", "l", ":9100", "UDP address to listen on")
	cmd.Flags().BoolVarP(&oneway, "oneway", "o", false, "one-way mode (print elapsed one-way samples)")
	return cmd
}

func clientCmd() *cobra.Command {
	var target string
	var oneway, precise bool
	var size, count int
	var interval, jitter time.Duration
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Send latency probes over UDP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := notifyContext()
			defer cancel()

			addr, err := net.ResolveUDPAddr("udp", target)
			if err != nil {
				return err
			}
			conn, err := net.DialUDP("udp", nil, addr)
			if err != nil {
				return err
			}
			defer conn.Close()

			transport := perf.NewUDPTransport(conn)
			mode := perf.RTT
			if oneway {
				mode = perf.OneWay
			}
			initiator := perf.NewLatencyInitiator(transport, mode, interval, jitter, precise, tsnlog.New("udp-latency", debug))

			return initiator.Run(ctx, count, func(s perf.LatencySample) {
				if s.Lost {
					fmt.Printf("%d: TIMEOUT\n", s.ID)
					return
				}
				fmt.Printf("%d: %s\n", s.ID, s.Elapsed)
			})
		},
	}
	cmd.Flags().StringVarP(&target, "target", "t", "", "target host:port")
	cmd.Flags().BoolVarP(&oneway, "oneway", "o", false, "one-way mode")
	cmd.Flags().BoolVarP(&precise, "precise", "p", false, "sleep to the next second boundary between iterations")
	cmd.Flags().IntVarP(&size, "size", "s", defaultPacketSize, "frame size in bytes (unused past minimum header)")
	cmd.Flags().IntVarP(&count, "count", "n", defaultCount, "number of probes to send")
	cmd.Flags().DurationVar(&interval, "interval", defaultInterval, "base delay between probes")
	cmd.Flags().DurationVar(&jitter, "jitter", defaultJitter, "random jitter added to interval")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}
