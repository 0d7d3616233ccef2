package main

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/mytimedojo/bridge/pkg/bridge"
)

var (
	callCaller      string
	callTranscript  string
	callOperator    string
	callLiveFor     time.Duration
	callAudioOut    string
	callInteractive bool
)

var callCmd = &cobra.Command{
	Use:   "call",
	Short: "Run one scored call session against the bridge",
	Long: `call engages the automated persona with a caller transcript, streams the
synthesised response, and ends the session so it gets scored.

With --live, an operator barge-in is simulated for the given duration before
control returns to the persona. Live time earns the 5x XP multiplier.

With --interactive, the session is driven from stdin instead:

  combat <text>   engage the persona with a caller line
  say <text>      speak text directly (tts)
  barge           take the conn as the live operator
  resume          hand back to the automated persona
  end             end and score the session
  quit            end the session and exit`,
	RunE: runCall,
}

func init() {
	callCmd.Flags().StringVar(&callCaller, "caller", "+15550000000", "caller number to report")
	callCmd.Flags().StringVar(&callTranscript, "transcript", "", "what the caller said")
	callCmd.Flags().StringVar(&callOperator, "operator", "dojoctl", "operator user ID for barge-in")
	callCmd.Flags().DurationVar(&callLiveFor, "live", 0, "barge in for this long after streaming completes")
	callCmd.Flags().StringVar(&callAudioOut, "out", "", "write received audio to this file")
	callCmd.Flags().BoolVar(&callInteractive, "interactive", false, "drive the session from stdin")
}

func runCall(cmd *cobra.Command, _ []string) error {
	client, err := bridge.New(bridge.Config{URL: serverURL, Persona: personaID})
	if err != nil {
		return err
	}

	var (
		audioMu sync.Mutex
		audio   bytes.Buffer
	)
	streamDone := make(chan struct{}, 1)
	scored := make(chan bridge.Session, 1)

	d := client.Dispatcher()
	d.OnAudioChunk(func(chunk []byte) {
		audioMu.Lock()
		audio.Write(chunk)
		audioMu.Unlock()
	})
	d.OnStatus(func(ev *bridge.ControlEvent) {
		switch ev.Status {
		case bridge.StatusEventStreaming:
			fmt.Printf("persona %s: %s\n", ev.Persona, ev.ActorText)
		case bridge.StatusEventDone:
			select {
			case streamDone <- struct{}{}:
			default:
			}
		case bridge.StatusEventInterrupted:
			fmt.Println("stream interrupted:", ev.Reason)
			select {
			case streamDone <- struct{}{}:
			default:
			}
		}
	})
	d.OnBarge(func(ev *bridge.ControlEvent) {
		fmt.Println(ev.Message)
	})
	d.OnScored(func(ev *bridge.ControlEvent, final bridge.Session) {
		fmt.Printf("session %s scored: total %ds, live %ds, auto %ds\n",
			ev.SessionID, ev.TotalDuration, ev.LiveSeconds, ev.AutoSeconds)
		if ev.Steward != nil {
			fmt.Printf("steward: %d credits, level %d (%s mode)\n",
				ev.Steward.CreditsEarned, ev.Steward.NewLevel, ev.Steward.Mode)
		}
		scored <- final
	})
	d.OnError(func(err error) {
		fmt.Fprintln(os.Stderr, "bridge error:", err)
	})

	ctx := cmd.Context()
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Disconnect()

	if callInteractive {
		if err := runInteractive(client, scored); err != nil {
			return err
		}
		return writeAudio(&audioMu, &audio)
	}

	if callTranscript == "" {
		return fmt.Errorf("--transcript is required unless --interactive is set")
	}
	if err := client.Engage(callCaller, callTranscript, personaID); err != nil {
		return err
	}

	select {
	case <-streamDone:
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(2 * time.Minute):
		return fmt.Errorf("timed out waiting for the stream to finish")
	}

	if callLiveFor > 0 {
		if err := client.BargeIn(callOperator); err != nil {
			return err
		}
		time.Sleep(callLiveFor)
		if err := client.BargeOut(personaID); err != nil {
			return err
		}
	}

	if err := client.EndSession(); err != nil {
		return err
	}

	select {
	case <-scored:
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(30 * time.Second):
		return fmt.Errorf("timed out waiting for the session score")
	}

	return writeAudio(&audioMu, &audio)
}

// runInteractive drives the session from stdin commands until quit or EOF.
func runInteractive(client *bridge.Client, scored chan bridge.Session) error {
	fmt.Println("interactive session; type 'combat <text>', 'say <text>', 'barge', 'resume', 'end', or 'quit'")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		cmdWord, rest, _ := strings.Cut(line, " ")
		rest = strings.TrimSpace(rest)

		var err error
		switch cmdWord {
		case "":
			continue
		case "combat":
			err = client.Engage(callCaller, rest, personaID)
		case "say":
			err = client.Speak(rest, "")
		case "barge":
			err = client.BargeIn(callOperator)
		case "resume":
			err = client.BargeOut(personaID)
		case "end":
			err = endAndWait(client, scored)
		case "quit":
			if client.Session().ID != "" {
				if err := endAndWait(client, scored); err != nil {
					return err
				}
			}
			return scanner.Err()
		default:
			fmt.Printf("unknown command %q\n", cmdWord)
			continue
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
	}
	return scanner.Err()
}

func endAndWait(client *bridge.Client, scored chan bridge.Session) error {
	if err := client.EndSession(); err != nil {
		return err
	}
	select {
	case <-scored:
		return nil
	case <-time.After(30 * time.Second):
		return fmt.Errorf("timed out waiting for the session score")
	}
}

func writeAudio(mu *sync.Mutex, audio *bytes.Buffer) error {
	if callAudioOut == "" {
		return nil
	}
	mu.Lock()
	data := audio.Bytes()
	mu.Unlock()
	if err := os.WriteFile(callAudioOut, data, 0o644); err != nil {
		return fmt.Errorf("writing audio: %w", err)
	}
	fmt.Printf("wrote %d bytes of audio to %s\n", len(data), callAudioOut)
	return nil
}
