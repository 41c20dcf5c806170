package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	modbusview "github.com/edgeo-scada/modbus-view"
)

var (
	cfgFile string

	// Global flags
	host      string
	port      int
	unitID    uint8
	timeout   time.Duration
	outputFmt string
	verbose   bool
	noColor   bool

	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "modbusview",
	Short: "View coils, discrete inputs and holding registers of a Modbus TCP device",
	Long: `modbusview reads a block of coils, discrete inputs or holding registers
from a Modbus TCP device and shows it as a list of decoded values.

Holding registers can be viewed as int16, int32, float32, float32-swapped
or float64. Wide values span 2 or 4 registers, low register first.

Examples:
  # Read 10 holding registers from address 0
  modbusview read holding -a 0 -c 10 -H 192.168.1.100

  # View 4 registers as two float32 values
  modbusview read holding -a 20 -c 4 -e float32

  # Poll coils every second and publish each read to MQTT
  modbusview watch coils -c 8 -i 1s --mqtt-url tcp://localhost:1883

  # Interactive mode
  modbusview interactive -H 192.168.1.100

  # Local simulator with demo values
  modbusview serve --listen 127.0.0.1:5020 --demo`,
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}))

		// Config file and environment values override flag defaults.
		host = viper.GetString("host")
		port = viper.GetInt("port")
		unitID = uint8(viper.GetUint("unit"))
		timeout = viper.GetDuration("timeout")
		outputFmt = viper.GetString("output")
		if !validOutput(outputFmt) {
			return fmt.Errorf("invalid output format %q (table, json, csv, yaml, raw)", outputFmt)
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Configuration file
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.modbusview.yaml)")

	// Connection flags
	rootCmd.PersistentFlags().StringVarP(&host, "host", "H", "localhost", "Modbus server host")
	rootCmd.PersistentFlags().IntVarP(&port, "port", "p", modbusview.DefaultPort, "Modbus server port")
	rootCmd.PersistentFlags().Uint8VarP(&unitID, "unit", "u", 1, "Modbus unit ID (1-247)")
	rootCmd.PersistentFlags().DurationVarP(&timeout, "timeout", "t", modbusview.DefaultTimeout, "Operation timeout")

	// Output flags
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "Output format: table, json, csv, yaml, raw")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable color output")

	// Bind to viper
	viper.BindPFlag("host", rootCmd.PersistentFlags().Lookup("host"))
	viper.BindPFlag("port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("unit", rootCmd.PersistentFlags().Lookup("unit"))
	viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))
	viper.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))

	// Add commands
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(interactiveCmd)
	rootCmd.AddCommand(serveCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return
		}

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigName(".modbusview")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("MODBUS")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

func getAddress() string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func newManager() *modbusview.ConnectionManager {
	return modbusview.NewConnectionManager(
		modbusview.WithUnitID(modbusview.UnitID(unitID)),
		modbusview.WithTimeout(timeout),
		modbusview.WithLogger(logger),
	)
}

// connectManager returns a manager connected to the configured target.
func connectManager(ctx context.Context) (*modbusview.ConnectionManager, error) {
	m := newManager()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := m.Connect(ctx, host, port); err != nil {
		return nil, fmt.Errorf("connection failed: %w", err)
	}
	return m, nil
}
