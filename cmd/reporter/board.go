package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/shenikar/sos_dispatch_system/internal/models"
)

const maxPlaceWidth = 32

// renderBoard печатает доску таблицей. state - состояние локальной смены статуса, может быть nil.
func renderBoard(w io.Writer, incidents []*models.Incident, state func(uuid.UUID) string, openOnly bool) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tPRIORITY\tTYPE\tPEOPLE\tPLACE\tREPORTED")

	shown := 0
	for _, inc := range incidents {
		if openOnly && inc.Status == models.StatusResolved {
			continue
		}
		status := string(inc.Status)
		if state != nil {
			if s := state(inc.ID); s != "" {
				status += " (" + s + ")"
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			inc.ID.String()[:8],
			status,
			inc.Priority,
			inc.Type,
			inc.PeopleAffected,
			placeLabel(inc),
			inc.Timestamp.Local().Format("01-02 15:04"),
		)
		shown++
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if shown == 0 {
		_, err := fmt.Fprintln(w, "No incidents")
		return err
	}
	return nil
}

func placeLabel(inc *models.Incident) string {
	place := inc.PlaceName
	if place == "" {
		place = inc.Location.String()
	}
	if r := []rune(place); len(r) > maxPlaceWidth {
		place = string(r[:maxPlaceWidth-1]) + "…"
	}
	return place
}
