package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/edgeo-scada/modbus-view/internal/simulator"
)

var (
	serveListen     string
	serveDemo       bool
	serveSize       int
	serveMaxClients uint
	serveIdle       time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a local Modbus TCP simulator",
	Long: `Serve an in-memory bank of coils, discrete inputs, holding registers and
input registers over Modbus TCP. Useful for trying the viewer without a device.

With --demo the bank is seeded for the configured unit ID:
  holding 0-2    int16 1234, 5678, 9012
  holding 10-11  int32 100000
  holding 20-21  float32 3.14159
  holding 30-31  float32 3.14159, high register first
  holding 40-43  float64 pi
  coils 0-2      1, 0, 1`,
	Example: `  modbusview serve --listen 127.0.0.1:5020 --demo
  modbusview read holding -a 20 -c 2 -e float32 -p 5020`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveListen, "listen", "l", "127.0.0.1:5020", "Listen address")
	serveCmd.Flags().BoolVar(&serveDemo, "demo", false, "Seed the bank with demo values")
	serveCmd.Flags().IntVar(&serveSize, "size", 0, "Number of addresses per table (0 = 65536)")
	serveCmd.Flags().UintVar(&serveMaxClients, "max-clients", 10, "Maximum concurrent clients")
	serveCmd.Flags().DurationVar(&serveIdle, "idle-timeout", 5*time.Minute, "Close idle client connections after")
}

func runServe(cmd *cobra.Command, args []string) error {
	bank := simulator.NewBank(serveSize)
	if serveDemo {
		simulator.Seed(bank, unitID)
	}

	srv, err := simulator.New(serveListen, bank,
		simulator.WithLogger(logger),
		simulator.WithMaxClients(serveMaxClients),
		simulator.WithIdleTimeout(serveIdle),
	)
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}

	outputSuccess("Simulator listening on %s (%d addresses per table)", srv.Addr(), bank.Size())
	if serveDemo {
		outputInfo("Demo values seeded for unit %d", unitID)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-sigCh:
	case <-cmd.Context().Done():
	}

	fmt.Println("\nStopping simulator...")
	if err := srv.Stop(); err != nil {
		return err
	}
	fmt.Printf("Served %d requests\n", srv.Requests())
	return nil
}
