package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	modbusview "github.com/edgeo-scada/modbus-view"
	"github.com/edgeo-scada/modbus-view/internal/publish"
	"github.com/edgeo-scada/modbus-view/internal/telemetry"
)

var (
	watchInterval    time.Duration
	watchCount       int
	watchShowDiff    bool
	watchClearTerm   bool
	watchMQTTURL     string
	watchMQTTTopic   string
	watchMQTTUser    string
	watchMQTTPass    string
	watchMQTTQoS     uint8
	watchMetricsAddr string
)

var watchCmd = &cobra.Command{
	Use:   "watch <coils|inputs|holding>",
	Short: "Continuously read a view",
	Long: `Read the same block of coils, discrete inputs or holding registers on a
fixed interval and redraw it.

Every successful read can also be published as JSON to an MQTT topic, and
connection metrics can be served for Prometheus.`,
	Example: `  # Watch 5 holding registers every second
  modbusview watch holding -a 0 -c 5 -i 1s -H 192.168.1.100

  # Watch coils with change highlighting, stop after 10 reads
  modbusview watch coils -a 0 -c 8 -n 10 --diff

  # Publish float32 values to MQTT and expose metrics
  modbusview watch holding -a 20 -c 4 -e float32 \
    --mqtt-url tcp://localhost:1883 --mqtt-topic plant/line1 \
    --metrics-addr :9502`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	addViewFlags(watchCmd)
	watchCmd.Flags().DurationVarP(&watchInterval, "interval", "i", 1*time.Second, "Poll interval")
	watchCmd.Flags().IntVarP(&watchCount, "iterations", "n", 0, "Number of iterations (0 = infinite)")
	watchCmd.Flags().BoolVar(&watchShowDiff, "diff", false, "Highlight changed values")
	watchCmd.Flags().BoolVar(&watchClearTerm, "clear", true, "Clear terminal between updates")
	watchCmd.Flags().StringVar(&watchMQTTURL, "mqtt-url", "", "Publish every read to this MQTT broker")
	watchCmd.Flags().StringVar(&watchMQTTTopic, "mqtt-topic", publish.DefaultTopic, "MQTT topic")
	watchCmd.Flags().StringVar(&watchMQTTUser, "mqtt-user", "", "MQTT username")
	watchCmd.Flags().StringVar(&watchMQTTPass, "mqtt-password", "", "MQTT password")
	watchCmd.Flags().Uint8Var(&watchMQTTQoS, "mqtt-qos", 0, "MQTT QoS (0-2)")
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
}

type watchState struct {
	view    *modbusview.RegisterView
	manager *modbusview.ConnectionManager

	prev         []string
	iteration    int
	startTime    time.Time
	errorCount   int
	successCount int
}

func runWatch(cmd *cobra.Command, args []string) error {
	if watchMQTTQoS > 2 {
		return fmt.Errorf("invalid MQTT QoS %d", watchMQTTQoS)
	}

	v, err := newView(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	m, err := connectManager(ctx)
	if err != nil {
		return err
	}
	defer m.Close()

	if watchMQTTURL != "" {
		p, err := publish.Dial(publish.Config{
			BrokerURL: watchMQTTURL,
			Username:  watchMQTTUser,
			Password:  watchMQTTPass,
			Topic:     watchMQTTTopic,
			QoS:       watchMQTTQoS,
			Timeout:   timeout,
		}, logger)
		if err != nil {
			return err
		}
		defer p.Close()
		defer v.Subscribe(p.Observer(ctx, m.Address(), m.UnitID()))()
	}

	if watchMetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			telemetry.NewCollector("modbusview", m.Metrics(), prometheus.Labels{"target": m.Address()}),
		)
		go func() {
			if err := telemetry.Serve(ctx, watchMetricsAddr, reg, logger); err != nil {
				logger.Error("metrics server failed", slog.Any("error", err))
			}
		}()
	}

	state := &watchState{
		view:      v,
		manager:   m,
		startTime: time.Now(),
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	if err := state.readAndDisplay(ctx); err != nil {
		state.errorCount++
		outputWarning("Initial read failed: %v", err)
	}

	for {
		if watchCount > 0 && state.iteration >= watchCount {
			state.printSummary()
			return nil
		}
		select {
		case <-sigCh:
			fmt.Println("\n\nStopping watch...")
			state.printSummary()
			return nil
		case <-ticker.C:
			if err := state.readAndDisplay(ctx); err != nil {
				state.errorCount++
				if verbose {
					outputWarning("Read failed: %v", err)
				}
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *watchState) readAndDisplay(ctx context.Context) error {
	readCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.iteration++
	if _, err := s.view.Read(readCtx, s.manager); err != nil {
		return err
	}
	s.successCount++

	now := time.Now()
	if outputFmt == "json" {
		return s.outputJSON(now)
	}
	if outputFmt != "table" {
		return writeView(os.Stdout, outputFmt, s.view)
	}

	if watchClearTerm && s.successCount > 1 {
		fmt.Print("\033[H\033[2J")
	}

	category := s.view.ReadCategory()
	fmt.Printf("%s - Watching %s (Address %d, Count %d)\n",
		color(colorBold, "MODBUS WATCH"),
		categoryTitle(category),
		s.view.StartAddress(),
		s.view.ActualReadCount())
	fmt.Printf("Host: %s | Unit: %d | Interval: %s\n", s.manager.Address(), s.manager.UnitID(), watchInterval)
	fmt.Printf("Time: %s | Iteration: %d", now.Format("15:04:05.000"), s.iteration)
	if watchCount > 0 {
		fmt.Printf("/%d", watchCount)
	}
	fmt.Println()
	fmt.Println(strings.Repeat("-", 60))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ROW\tADDR\tVALUE\tHEX\tCHANGE")
	fmt.Fprintln(w, "---\t----\t-----\t---\t------")

	rows := s.view.Rows()
	current := make([]string, len(rows))
	for i, r := range rows {
		current[i] = r.Cell.String()

		change := ""
		if watchShowDiff && s.prev != nil && i < len(s.prev) && s.prev[i] != current[i] {
			change = color(colorYellow, s.prev[i]+" -> "+current[i])
		}
		fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\n", r.Index, r.Address, current[i], cellHex(r.Cell), change)
	}
	w.Flush()

	s.prev = current
	return nil
}

func (s *watchState) outputJSON(ts time.Time) error {
	data := struct {
		Timestamp string `json:"timestamp"`
		Iteration int    `json:"iteration"`
		ViewResult
	}{
		Timestamp:  ts.Format(time.RFC3339Nano),
		Iteration:  s.iteration,
		ViewResult: collectView(s.view),
	}
	return json.NewEncoder(os.Stdout).Encode(data)
}

func (s *watchState) printSummary() {
	duration := time.Since(s.startTime)
	fmt.Println()
	fmt.Println(color(colorBold, "Watch Summary"))
	fmt.Println(strings.Repeat("-", 30))
	fmt.Printf("Duration:    %s\n", duration.Round(time.Millisecond))
	fmt.Printf("Iterations:  %d\n", s.iteration)
	fmt.Printf("Success:     %d\n", s.successCount)
	fmt.Printf("Errors:      %d\n", s.errorCount)
	if s.iteration > 0 {
		fmt.Printf("Avg Rate:    %.2f reads/sec\n", float64(s.iteration)/duration.Seconds())
	}
	lat := s.manager.Metrics().Latency.Stats()
	if lat.Count > 0 {
		fmt.Printf("Latency:     avg %.2fms, min %.2fms, max %.2fms\n", lat.Avg, lat.Min, lat.Max)
	}
}
