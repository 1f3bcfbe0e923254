package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var voicesCmd = &cobra.Command{
	Use:   "voices",
	Short: "List and clone replacement voices",
}

var voicesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available voices",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		var resp struct {
			KeepOriginal string `json:"keep_original"`
			Catalog      []struct {
				ID       string `json:"id"`
				Name     string `json:"name"`
				Language string `json:"language"`
			} `json:"catalog"`
			Cloned []struct {
				VoiceID string `json:"voice_id"`
				Name    string `json:"name"`
			} `json:"cloned"`
		}
		if err := c.getJSON("/api/v1/voices", &resp); err != nil {
			return err
		}
		printResult(resp, func() {
			fmt.Printf("%-24s keep the speaker's own voice\n", resp.KeepOriginal)
			for _, v := range resp.Catalog {
				fmt.Printf("%-24s %s", v.ID, v.Name)
				if v.Language != "" {
					fmt.Printf(" (%s)", v.Language)
				}
				fmt.Println()
			}
			for _, v := range resp.Cloned {
				fmt.Printf("%-24s %s (cloned)\n", v.VoiceID, v.Name)
			}
		})
		return nil
	},
}

var (
	cloneName    string
	cloneConsent bool
)

var voicesCloneCmd = &cobra.Command{
	Use:   "clone <sample.wav>",
	Short: "Clone a voice from a reference sample",
	Long: `Upload a reference recording and register a cloned voice built from
it. The server refuses to clone without --consent, your assertion that
the recorded person agreed to having their voice cloned. Submitting the
same sample under the same name again returns the existing voice id
instead of cloning twice.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		var resp struct {
			VoiceID string `json:"voice_id"`
			Name    string `json:"name"`
		}
		err := c.uploadFile("/api/v1/voices/clone", "sample", args[0],
			map[string]string{
				"name":    cloneName,
				"consent": strconv.FormatBool(cloneConsent),
			}, &resp)
		if err != nil {
			return err
		}
		fmt.Printf("Voice %q ready: %s\n", resp.Name, resp.VoiceID)
		return nil
	},
}

func init() {
	voicesCloneCmd.Flags().StringVar(&cloneName, "name", "", "display name for the cloned voice (required)")
	voicesCloneCmd.Flags().BoolVar(&cloneConsent, "consent", false, "assert the recorded person consented to voice cloning")
	_ = voicesCloneCmd.MarkFlagRequired("name")

	voicesCmd.AddCommand(voicesListCmd)
	voicesCmd.AddCommand(voicesCloneCmd)
	rootCmd.AddCommand(voicesCmd)
}
