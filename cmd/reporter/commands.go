package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/shenikar/sos_dispatch_system/internal/dispatch"
	"github.com/shenikar/sos_dispatch_system/internal/models"
	"github.com/shenikar/sos_dispatch_system/internal/syncengine"
	"github.com/spf13/cobra"
)

var (
	remoteReport bool
	boardOnce    bool
	boardAll     bool
	nearbyRadius int
	newStatus    string
	forceStatus  bool
	username     string
	password     string
	confirmClear bool
)

// reportCmd - одно сообщение репортера
var reportCmd = &cobra.Command{
	Use:   "report [text]",
	Short: "Report an emergency in plain words",
	Long: `Classify the text, place it at --lat/--lng (or at the default location
when they are not given) and send the incident to the board.

With --remote the text is sent to the server as is and the server does the
classification.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runReport,
}

// listenCmd читает расшифровки построчно из stdin
var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Handle transcripts from stdin, one report per line",
	RunE:  runListen,
}

// boardCmd показывает доску происшествий
var boardCmd = &cobra.Command{
	Use:   "board",
	Short: "Watch the incident board",
	Long: `Poll the board and print it on every change until interrupted.
Resolved incidents are hidden unless --all is given.`,
	RunE: runBoard,
}

var nearbyCmd = &cobra.Command{
	Use:   "nearby",
	Short: "List open incidents around --lat/--lng",
	RunE:  runNearby,
}

// resolveCmd меняет статус инцидента от имени диспетчера
var resolveCmd = &cobra.Command{
	Use:   "resolve <incident-id>",
	Short: "Change incident status (default RESOLVED)",
	Args:  cobra.ExactArgs(1),
	RunE:  runResolve,
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in as dispatcher and print the session token",
	RunE:  runLogin,
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every incident from the board",
	RunE:  runClear,
}

func init() {
	reportCmd.Flags().BoolVar(&remoteReport, "remote", false, "Let the server classify the report")

	boardCmd.Flags().BoolVar(&boardOnce, "once", false, "Print the board once and exit")
	boardCmd.Flags().BoolVar(&boardAll, "all", false, "Include resolved incidents")

	nearbyCmd.Flags().IntVar(&nearbyRadius, "radius", 0, "Search radius in meters (server default when 0)")

	resolveCmd.Flags().StringVar(&newStatus, "status", string(models.StatusResolved), "New status: DISPATCHED or RESOLVED")
	resolveCmd.Flags().BoolVar(&forceStatus, "force", false, "Skip the transition check (admin override)")

	loginCmd.Flags().StringVarP(&username, "username", "u", "", "Dispatcher username")
	loginCmd.Flags().StringVarP(&password, "password", "p", "", "Dispatcher password")
	_ = loginCmd.MarkFlagRequired("username")
	_ = loginCmd.MarkFlagRequired("password")

	clearCmd.Flags().BoolVar(&confirmClear, "yes", false, "Confirm clearing the whole board")
}

func runReport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	text := strings.Join(args, " ")

	if remoteReport {
		var loc *models.LatLng
		if cmd.Flags().Changed("lat") && cmd.Flags().Changed("lng") {
			loc = &models.LatLng{Lat: lat, Lng: lng}
		}
		out, err := current.api.Report(ctx, text, loc)
		if out != nil && out.Reply != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "> %s\n", out.Reply)
		}
		return err
	}

	coordinator, err := current.coordinator(cmd)
	if err != nil {
		return err
	}
	out, err := coordinator.HandleUtterance(ctx, text, current.geolocator(cmd))
	if err != nil {
		return err
	}
	if out.Incident != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "incident %s (%s, %s)\n", out.Incident.ID, out.Incident.Type, out.Incident.Priority)
	}
	return nil
}

func runListen(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	coordinator, err := current.coordinator(cmd)
	if err != nil {
		return err
	}
	transcriber := dispatch.NewLineTranscriber(cmd.InOrStdin())
	geo := current.geolocator(cmd)

	for {
		text, err := transcriber.Listen(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		// Ответ уже озвучен, сбой одной фразы не прерывает прослушивание
		if _, err := coordinator.HandleUtterance(ctx, text, geo); err != nil {
			current.log.WithError(err).Warn("Failed to handle report")
		}
	}
}

func runBoard(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	engine := current.engine
	out := cmd.OutOrStdout()

	if boardOnce {
		if err := engine.Refresh(ctx); err != nil {
			return err
		}
		return renderBoard(out, engine.Incidents(), mutationStates(engine), !boardAll)
	}

	updates := engine.Subscribe()
	engine.Start(ctx)
	defer engine.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case incidents, ok := <-updates:
			if !ok {
				return nil
			}
			fmt.Fprintf(out, "\n--- %s ---\n", current.clock.Now().Format("15:04:05"))
			if err := renderBoard(out, incidents, mutationStates(engine), !boardAll); err != nil {
				return err
			}
		}
	}
}

func runNearby(cmd *cobra.Command, _ []string) error {
	if !cmd.Flags().Changed("lat") || !cmd.Flags().Changed("lng") {
		return errors.New("--lat and --lng are required")
	}
	incidents, err := current.api.NearbyIncidents(cmd.Context(), models.LatLng{Lat: lat, Lng: lng}, nearbyRadius)
	if err != nil {
		return err
	}
	return renderBoard(cmd.OutOrStdout(), incidents, nil, true)
}

func runResolve(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid incident ID %q", args[0])
	}
	status, err := models.ParseStatus(newStatus)
	if err != nil {
		return err
	}

	if forceStatus {
		inc, err := current.api.ForceStatus(ctx, id, status)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "incident %s is now %s\n", inc.ID, inc.Status)
		return nil
	}

	engine := current.engine
	if err := engine.Refresh(ctx); err != nil {
		return err
	}
	inc, err := engine.ResolveIncident(ctx, id, status)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "incident %s marked %s, waiting for the board...\n", inc.ID, inc.Status)

	// Stop дожидается подтверждения сервером
	engine.Stop()
	m, ok := engine.Mutation(id)
	if !ok || m.State == syncengine.MutationConfirmed {
		fmt.Fprintln(cmd.OutOrStdout(), "confirmed")
		return nil
	}
	return fmt.Errorf("status change %s -> %s reverted: %w", m.From, m.To, m.Err)
}

func runLogin(cmd *cobra.Command, _ []string) error {
	s, err := current.api.Login(cmd.Context(), username, password)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "logged in as %s (%s), session expires at %s\n", s.Username, s.Role, s.ExpiresAt.Local().Format("2006-01-02 15:04"))
	fmt.Fprintf(out, "export SESSION_TOKEN=%s\n", s.Token)
	return nil
}

func runClear(cmd *cobra.Command, _ []string) error {
	if !confirmClear {
		return errors.New("refusing to clear the board without --yes")
	}
	n, err := current.engine.Clear(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Incidents cleared: %d\n", n)
	return nil
}

func mutationStates(engine *syncengine.Engine) func(uuid.UUID) string {
	return func(id uuid.UUID) string {
		m, ok := engine.Mutation(id)
		if !ok || m.State == syncengine.MutationConfirmed {
			return ""
		}
		return string(m.State)
	}
}
