// Консольный клиент репортера и диспетчера доски происшествий.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shenikar/sos_dispatch_system/internal/client"
	"github.com/shenikar/sos_dispatch_system/internal/config"
	"github.com/shenikar/sos_dispatch_system/internal/dispatch"
	"github.com/shenikar/sos_dispatch_system/internal/facility"
	"github.com/shenikar/sos_dispatch_system/internal/models"
	"github.com/shenikar/sos_dispatch_system/internal/observability"
	"github.com/shenikar/sos_dispatch_system/internal/syncengine"
	"github.com/shenikar/sos_dispatch_system/pkg/logger"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	serverURL string
	lat       float64
	lng       float64
	verbose   bool
)

// app - зависимости, общие для всех команд
type app struct {
	cfg     *config.ClientConfig
	log     *logrus.Logger
	clock   clockwork.Clock
	metrics *observability.Metrics
	api     *client.Client
	engine  *syncengine.Engine
}

var current *app

// rootCmd - корневая команда
var rootCmd = &cobra.Command{
	Use:   "reporter",
	Short: "SOS reporter and dispatcher console",
	Long: `Console client of the SOS incident board.

Reporters describe an emergency in plain words (report, listen); the text is
classified, placed on the map and sent to the board. Dispatchers watch the
board (board), change incident status (resolve) and clear it (clear).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.LoadClientConfig()
		if err != nil {
			return err
		}
		if serverURL != "" {
			cfg.ServerURL = serverURL
		}
		level := cfg.LogLevel
		if verbose {
			level = "debug"
		}

		log := logger.NewWithOutput(level, cfg.LogFormat, cmd.ErrOrStderr())
		// Метрики консольного клиента никуда не экспортируются
		metrics := observability.NewMetrics(prometheus.NewRegistry())
		clock := clockwork.NewRealClock()
		api := client.New(cfg, log)

		current = &app{
			cfg:     cfg,
			log:     log,
			clock:   clock,
			metrics: metrics,
			api:     api,
			engine:  syncengine.NewEngine(api, cfg.PollInterval, clock, log, metrics),
		}
		return nil
	},
}

// geolocator: координаты из флагов или, если их нет, резервная точка
func (a *app) geolocator(cmd *cobra.Command) dispatch.Geolocator {
	if !cmd.Flags().Changed("lat") || !cmd.Flags().Changed("lng") {
		return nil
	}
	return dispatch.FixedPosition(models.LatLng{Lat: lat, Lng: lng}, 0, a.clock)
}

// finder: свой ключ Google Maps - ищем напрямую, иначе через сервер
func (a *app) finder() (dispatch.FacilityFinder, error) {
	if a.cfg.MapsAPIKey == "" {
		return a.api, nil
	}
	maps, err := facility.NewGoogleMaps(a.cfg.MapsAPIKey)
	if err != nil {
		return nil, err
	}
	return facility.NewResolver(maps, maps, a.log, a.metrics, a.cfg.SearchTimeout), nil
}

func (a *app) coordinator(cmd *cobra.Command) (*dispatch.Coordinator, error) {
	finder, err := a.finder()
	if err != nil {
		return nil, err
	}
	speaker := dispatch.NewWriterSpeaker(cmd.OutOrStdout(), "> ")
	return dispatch.NewCoordinator(a.engine.AddIncident, finder, speaker, a.log, a.metrics, a.clock, dispatch.Options{
		FallbackLocation: models.LatLng{Lat: a.cfg.Dispatch.FallbackLat, Lng: a.cfg.Dispatch.FallbackLng},
		LocateTimeout:    a.cfg.Dispatch.GeolocationTimeout,
		SearchRadius:     a.cfg.SearchRadius,
	}), nil
}

func main() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Board API base URL (or set SERVER_URL env)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	for _, cmd := range []*cobra.Command{reportCmd, listenCmd, nearbyCmd} {
		cmd.Flags().Float64Var(&lat, "lat", 0, "Reporter latitude")
		cmd.Flags().Float64Var(&lng, "lng", 0, "Reporter longitude")
	}

	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(boardCmd)
	rootCmd.AddCommand(nearbyCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(clearCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
