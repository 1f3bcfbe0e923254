package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// jobView mirrors the server's job JSON; the CLI only reads the fields it
// displays.
type jobView struct {
	ID       string   `json:"id"`
	Stage    string   `json:"stage"`
	Error    string   `json:"error"`
	Warnings []string `json:"warnings"`
	Progress struct {
		Done  int `json:"done"`
		Total int `json:"total"`
	} `json:"progress"`
	OutputPath  string `json:"output_path"`
	Diarization *struct {
		Speakers []speakerView `json:"speakers"`
	} `json:"diarization"`
}

type speakerView struct {
	Label         string  `json:"label"`
	TotalDuration float64 `json:"total_duration"`
	SegmentCount  int     `json:"segment_count"`
	Percentage    float64 `json:"percentage"`
}

var (
	runVideo   string
	runMapping []string
	runOut     string
	runPoll    time.Duration
	runTimeout time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a full voice replacement end to end",
	Long: `Submit a video, wait for diarization, apply the speaker-to-voice
mapping, wait for rendering, and download the result.

The mapping assigns one replacement voice per diarized speaker label.
Unmapped speakers keep their original voice. Use the special voice id
"keep-original" to be explicit about it.

Examples:
  voiceswap run --video lecture.mp4 --map SPEAKER_00=voice-a --out out.mp4
  voiceswap run --video demo.mov \
      --map SPEAKER_00=voice-a --map SPEAKER_01=keep-original \
      --out demo-replaced.mov`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mapping, err := parseMapping(runMapping)
		if err != nil {
			return err
		}
		c := newClient()

		var job jobView
		fmt.Printf("Uploading %s...\n", runVideo)
		if err := c.uploadFile("/api/v1/jobs", "video", runVideo, nil, &job); err != nil {
			return err
		}
		fmt.Printf("Job %s admitted, waiting for diarization...\n", job.ID)

		job, err = waitForStage(c, job.ID, "awaiting_mapping", runPoll, runTimeout)
		if err != nil {
			return err
		}
		if job.Diarization != nil {
			printSpeakers(job.Diarization.Speakers)
		}

		if err := c.postJSON("/api/v1/jobs/"+job.ID+"/mapping",
			map[string]any{"mapping": mapping}, &job); err != nil {
			return err
		}
		fmt.Printf("Mapping applied, rendering %d segments...\n", job.Progress.Total)

		job, err = waitForStage(c, job.ID, "completed", runPoll, runTimeout)
		if err != nil {
			return err
		}
		for _, w := range job.Warnings {
			fmt.Println("Warning:", w)
		}

		if err := c.download("/api/v1/jobs/"+job.ID+"/output", runOut); err != nil {
			return err
		}
		fmt.Printf("Done: %s\n", runOut)
		return nil
	},
}

// parseMapping converts SPEAKER=voice pairs into the request body shape.
func parseMapping(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, fmt.Errorf("at least one --map SPEAKER=voice pair is required")
	}
	mapping := make(map[string]string, len(pairs))
	for _, p := range pairs {
		speaker, voiceID, ok := strings.Cut(p, "=")
		if !ok || speaker == "" || voiceID == "" {
			return nil, fmt.Errorf("invalid --map value %q, want SPEAKER=voice", p)
		}
		mapping[speaker] = voiceID
	}
	return mapping, nil
}

// waitForStage polls the job until it reaches want or goes terminal.
func waitForStage(c *client, jobID, want string, poll, timeout time.Duration) (jobView, error) {
	deadline := time.Now().Add(timeout)
	var job jobView
	for {
		if err := c.getJSON("/api/v1/jobs/"+jobID, &job); err != nil {
			return job, err
		}
		if job.Stage == want {
			return job, nil
		}
		switch job.Stage {
		case "failed":
			return job, fmt.Errorf("job failed: %s", job.Error)
		case "cancelled":
			return job, fmt.Errorf("job was cancelled")
		case "completed":
			// Reaching completed while waiting for an earlier stage
			// means the caller raced; treat it as arrived.
			if want != "completed" {
				return job, nil
			}
		}
		if job.Progress.Total > 0 && job.Stage == "synthesizing" {
			fmt.Printf("\rSynthesizing %d/%d", job.Progress.Done, job.Progress.Total)
		}
		if time.Now().After(deadline) {
			return job, fmt.Errorf("timed out waiting for job %s to reach %s (currently %s)", jobID, want, job.Stage)
		}
		time.Sleep(poll)
	}
}

func printSpeakers(speakers []speakerView) {
	fmt.Println("Detected speakers:")
	for _, sp := range speakers {
		fmt.Printf("  %-12s %6.1fs in %d segments (%.0f%%)\n",
			sp.Label, sp.TotalDuration, sp.SegmentCount, sp.Percentage)
	}
}

func init() {
	runCmd.Flags().StringVar(&runVideo, "video", "", "input video file (required)")
	runCmd.Flags().StringArrayVar(&runMapping, "map", nil, "SPEAKER=voice pair, repeatable (required)")
	runCmd.Flags().StringVar(&runOut, "out", "", "output video path (required)")
	runCmd.Flags().DurationVar(&runPoll, "poll-interval", 2*time.Second, "job polling interval")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 2*time.Hour, "overall wait budget per stage")
	_ = runCmd.MarkFlagRequired("video")
	_ = runCmd.MarkFlagRequired("out")

	rootCmd.AddCommand(runCmd)
}
