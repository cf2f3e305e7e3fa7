// Command udp-throughput is the UDP-transport counterpart to
// cmd/throughput: the same REQ_START/DATA/REQ_END protocol, carried as UDP
// payloads, so it needs no VLAN sub-interface or raw socket.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/tsnkit/tsnkit/internal/udplisten"
	"github.com/tsnkit/tsnkit/pkg/perf"
	"github.com/tsnkit/tsnkit/pkg/tsnlog"
)

const defaultSize = 1024
const defaultBitrate = perf.DefaultTargetBitsPerSecond

var debug bool

func main() {
	root := &cobra.Command{
		Use:          "udp-throughput",
		Short:        "UDP throughput measurement",
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

func serveMetrics(addr string, collector *perf.PacketCounter) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collector)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go http.ListenAndServe(addr, mux)
}

func serverCmd() *cobra.Command {
	var listenAddr, metricsAddr string
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Receive a UDP throughput session and report stats",
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

			var counter *perf.PacketCounter
			if metricsAddr != "" {
				counter = perf.NewPacketCounter("tsnkit_udp_throughput", []string{"listen"})
				counter.Add(listenAddr, []string{listenAddr})
				serveMetrics(metricsAddr, counter)
			}

			var pktTotal, byteTotal uint64
			responder := perf.NewThroughputResponder(transport,
				func(second int, deltaPackets, deltaBitsSent uint64, lossRate float64) {
					if counter != nil {
						if second == 1 {
							pktTotal, byteTotal = 0, 0
						}
						pktTotal += deltaPackets
						byteTotal += deltaBitsSent / 8
						counter.Update(listenAddr, pktTotal, byteTotal, lossRate)
					}
					fmt.Printf("t=%ds packets=%d bits=%d loss=%.4f\n", second, deltaPackets, deltaBitsSent, lossRate)
				},
				func(s perf.Summary) {
					fmt.Printf("session done: packets=%d bytes=%d elapsed=%s rate=%.2fbps\n",
						s.PacketCount, s.TotalBytes, s.Elapsed, s.BitsPerSecond())
				},
				tsnlog.New("udp-throughput", debug),
			)
			return responder.Run(ctx)
		},
	}
	cmd.Flags().StringVarP(&listenAddr, "listen", "l", ":9101", "UDP address to listen on")
	cmd.Flags().StringVar(&metricsAddr, "metrics", "", "address to serve Prometheus /metrics on (disabled if empty)")
	return cmd
}

func clientCmd() *cobra.Command {
	var target string
	var size int
	var bitrate uint64
	var duration time.Duration
	var wantResult bool
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Send a UDP throughput session",
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
			initiator := perf.NewThroughputInitiator(transport, bitrate, size, tsnlog.New("udp-throughput", debug))

			summary, err := initiator.Run(ctx, duration, wantResult)
			if err != nil {
				return err
			}
			fmt.Printf("sent: packets=%d bytes=%d elapsed=%s rate=%.2fbps\n",
				summary.PacketCount, summary.TotalBytes, summary.Elapsed, summary.BitsPerSecond())
			return nil
		},
	}
	cmd.Flags().StringVarP(&target, "target", "t", "", "target host:port")
	cmd.Flags().IntVarP(&size, "size", "s", defaultSize, "DATA payload size in bytes")
	cmd.Flags().Uint64Var(&bitrate, "bitrate", defaultBitrate, "target send rate in bits/sec")
	cmd.Flags().DurationVarP(&duration, "duration", "d", 10*time.Second, "session duration")
	cmd.Flags().BoolVar(&wantResult, "result", false, "request the responder's counters after ending the session")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}
