// Command throughput is the raw-L2 throughput tool: a server (responder)
// and a client (initiator) speaking the REQ_START/DATA/REQ_END protocol
// over a raw AF_PACKET VLAN socket, with optional Prometheus metrics.
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

	"github.com/tsnkit/tsnkit/internal/cliconfig"
	"github.com/tsnkit/tsnkit/pkg/perf"
	"github.com/tsnkit/tsnkit/pkg/tsnadmin"
	"github.com/tsnkit/tsnkit/pkg/tsnconfig"
	"github.com/tsnkit/tsnkit/pkg/tsnlog"
	"github.com/tsnkit/tsnkit/pkg/tsnsock"
	"github.com/tsnkit/tsnkit/pkg/yamldoc"
)

const (
	defaultVlanID  = 10
	defaultPrio    = 3
	defaultSize    = 1024
	defaultBitrate = perf.DefaultTargetBitsPerSecond
)

var (
	configPath string
	debug      bool
)

func main() {
	root := &cobra.Command{
		Use:          "throughput",
		Short:        "Raw-L2 throughput measurement",
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
		return nil, fmt.Errorf("throughput: no config for nic %q", nic)
	}
	return cfg, nil
}

func openRawSocket(ctx context.Context, nic string, vlanID, prio int) (*tsnsock.Socket, error) {
	cfg, err := loadNicConfig(nic)
	if err != nil {
		return nil, err
	}
	log := tsnlog.New("throughput", debug)
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

func serveMetrics(addr string, collector *perf.PacketCounter) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collector)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go http.ListenAndServe(addr, mux)
}

func serverCmd() *cobra.Command {
	var nic, metricsAddr string
	var vlanID, prio int
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Receive a throughput session and report stats",
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
			// No peer MAC yet: RawTransport learns it from the first
			// REQ_START's source address and replies there (spec §4.5.2).
			transport := perf.NewRawTransport(sock, srcMAC, [6]byte{}, perf.EtherType, true)

			var counter *perf.PacketCounter
			if metricsAddr != "" {
				counter = perf.NewPacketCounter("tsnkit_throughput", []string{"nic"})
				counter.Add(nic, []string{nic})
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
						counter.Update(nic, pktTotal, byteTotal, lossRate)
					}
					fmt.Printf("t=%ds packets=%d bits=%d loss=%.4f\n", second, deltaPackets, deltaBitsSent, lossRate)
				},
				func(s perf.Summary) {
					fmt.Printf("session done: packets=%d bytes=%d elapsed=%s rate=%.2fbps\n",
						s.PacketCount, s.TotalBytes, s.Elapsed, s.BitsPerSecond())
				},
				tsnlog.New("throughput", debug),
			)
			return responder.Run(ctx)
		},
	}
	cmd.Flags().StringVarP(&nic, "interface", "i", "", "NIC name")
	cmd.Flags().StringVar(&metricsAddr, "metrics", "", "address to serve Prometheus /metrics on (disabled if empty)")
	cmd.Flags().IntVar(&vlanID, "vlan-id", defaultVlanID, "measurement VLAN id")
	cmd.Flags().IntVar(&prio, "prio", defaultPrio, "socket priority")
	_ = cmd.MarkFlagRequired("interface")
	return cmd
}

func clientCmd() *cobra.Command {
	var nic, target string
	var size int
	var bitrate uint64
	var duration time.Duration
	var wantResult bool
	var vlanID, prio int
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Send a throughput session",
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
				return fmt.Errorf("throughput: invalid target MAC %q: %w", target, err)
			}
			var dst [6]byte
			copy(dst[:], dstMAC)

			transport := perf.NewRawTransport(sock, srcMAC, dst, perf.EtherType, true)
			initiator := perf.NewThroughputInitiator(transport, bitrate, size, tsnlog.New("throughput", debug))

			summary, err := initiator.Run(ctx, duration, wantResult)
			if err != nil {
				return err
			}
			fmt.Printf("sent: packets=%d bytes=%d elapsed=%s rate=%.2fbps\n",
				summary.PacketCount, summary.TotalBytes, summary.Elapsed, summary.BitsPerSecond())
			return nil
		},
	}
	cmd.Flags().StringVarP(&nic, "interface", "i", "", "NIC name")
	cmd.Flags().StringVarP(&target, "target", "t", "", "target MAC address")
	cmd.Flags().IntVarP(&size, "size", "s", defaultSize, "DATA payload size in bytes")
	cmd.Flags().Uint64Var(&bitrate, "bitrate", defaultBitrate, "target send rate in bits/sec")
	cmd.Flags().DurationVarP(&duration, "duration", "d", 10*time.Second, "session duration")
	cmd.Flags().BoolVar(&wantResult, "result", false, "request the responder's counters after ending the session")
	cmd.Flags().IntVar(&vlanID, "vlan-id", defaultVlanID, "measurement VLAN id")
	cmd.Flags().IntVar(&prio, "prio", defaultPrio, "socket priority")
	_ = cmd.MarkFlagRequired("interface")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}
