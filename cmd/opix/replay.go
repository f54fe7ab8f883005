package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jpalmerr/opix"
)

// replayFile is a recorded queue of page invocations.
//
//	captured_at: 2024-03-01T12:00:00Z
//	calls:
//	  - [init, SITE-1]
//	  - [param, plan, pro]
//	  - [event, pageview]
//	  - [event, signup, {seats: 3}]
type replayFile struct {
	CapturedAt *time.Time `yaml:"captured_at"`
	Calls      [][]any    `yaml:"calls"`
}

// replayCmd feeds recorded invocations through a stub.
var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay recorded invocations",
	Long: `Replay a YAML file of recorded invocations through a pre-load stub.

Every call is queued before the tracker loads, exactly as a page that
invokes the tracker before the script arrives. The queue is replayed in
order on load, then the page is torn down.

Each call is a list: the verb followed by its arguments. Invalid calls are
logged and skipped, as on a real page.

Example:
  opix replay -c opix.yaml -f visit.yaml`,
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)

	addConfigFlag(replayCmd)
	replayCmd.Flags().StringP("file", "f", "", "path to replay file (required)")
	replayCmd.Flags().Bool("no-teardown", false, "skip the page close event")
	_ = replayCmd.MarkFlagRequired("file")
}

// loadReplay reads and checks a replay file.
func loadReplay(path string) (*replayFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read replay file: %w", err)
	}

	var rf replayFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("failed to parse replay file: %w", err)
	}
	if len(rf.Calls) == 0 {
		return nil, fmt.Errorf("replay file has no calls")
	}
	for i, call := range rf.Calls {
		if len(call) == 0 {
			return nil, fmt.Errorf("calls[%d]: empty call", i)
		}
		if _, ok := call[0].(string); !ok {
			return nil, fmt.Errorf("calls[%d]: verb must be a string, got %T", i, call[0])
		}
	}
	return &rf, nil
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := newLogger(os.Stderr, cfg.Log)

	path, _ := cmd.Flags().GetString("file")
	rf, err := loadReplay(path)
	if err != nil {
		return err
	}
	noTeardown, _ := cmd.Flags().GetBool("no-teardown")

	capturedAt := time.Now()
	if rf.CapturedAt != nil {
		capturedAt = *rf.CapturedAt
	}
	stub := opix.NewStub(capturedAt)
	for _, call := range rf.Calls {
		stub.Call(call[0].(string), call[1:]...)
	}
	queued := stub.Len()

	res, err := runVisit(cmd.Context(), cfg, logger, stub, !noTeardown, nil)
	if err != nil {
		return err
	}

	fmt.Printf("%d calls replayed, %d events sent to %s\n", queued, res.sent, cfg.Endpoint)
	return nil
}
