package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/opix"
)

// sendCmd simulates one page visit against the configured endpoint.
var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Simulate one page visit",
	Long: `Simulate one page visit against the configured endpoint.

The visit runs the same sequence a page does:
  - init with the tracker id and register --param values
  - send the page view
  - send each --event and follow each --link
  - send the page close on teardown

Events take an optional JSON payload after "=".

Example:
  opix send -c opix.yaml
  opix send -c opix.yaml -e 'signup={"plan":"pro"}' --link https://partner.example.com/
  OPIX_PIXEL_ENDPOINT=http://localhost:8080/collect opix send --tracker-id SITE-1`,
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)

	addConfigFlag(sendCmd)
	sendCmd.Flags().String("tracker-id", "", "tracker id (overrides config)")
	sendCmd.Flags().StringArrayP("event", "e", nil, "custom event as name or name=json (repeatable)")
	sendCmd.Flags().StringArrayP("param", "p", nil, "custom parameter as key=value (repeatable)")
	sendCmd.Flags().StringArray("link", nil, "link click to record (repeatable)")
	sendCmd.Flags().Bool("no-teardown", false, "skip the page close event")
}

func runSend(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := newLogger(os.Stderr, cfg.Log)

	trackerID, _ := cmd.Flags().GetString("tracker-id")
	if trackerID == "" {
		trackerID = cfg.TrackerID
	}
	if trackerID == "" {
		return fmt.Errorf("a tracker id is required (tracker_id, OPIX_TRACKER_ID or --tracker-id)")
	}

	params, _ := cmd.Flags().GetStringArray("param")
	events, _ := cmd.Flags().GetStringArray("event")
	links, _ := cmd.Flags().GetStringArray("link")
	noTeardown, _ := cmd.Flags().GetBool("no-teardown")

	stub := opix.NewStub(time.Now())
	stub.Call(opix.VerbInit, trackerID)
	for _, p := range params {
		key, value, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			return fmt.Errorf("invalid --param %q: expected key=value", p)
		}
		stub.Call(opix.VerbParam, key, value)
	}
	stub.Call(opix.VerbEvent, opix.EventPageView)

	res, err := runVisit(cmd.Context(), cfg, logger, stub, !noTeardown, func(tr *opix.Tracker) {
		for _, e := range events {
			name, data, hasData := strings.Cut(e, "=")
			if hasData {
				stub.Call(opix.VerbEvent, name, data)
			} else {
				stub.Call(opix.VerbEvent, name)
			}
		}
		for _, href := range links {
			tr.TrackLink(href)
		}
	})
	if err != nil {
		return err
	}

	fmt.Printf("%d events sent to %s\n", res.sent, cfg.Endpoint)
	return nil
}
