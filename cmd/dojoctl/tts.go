package main

import (
	"bytes"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/mytimedojo/bridge/pkg/bridge"
)

var (
	ttsText  string
	ttsVoice string
	ttsOut   string
)

var ttsCmd = &cobra.Command{
	Use:   "tts",
	Short: "Synthesise speech over the stream endpoint",
	RunE:  runTTS,
}

func init() {
	ttsCmd.Flags().StringVar(&ttsText, "text", "", "text to synthesise (required)")
	ttsCmd.Flags().StringVar(&ttsVoice, "voice", "", "voice ID (server default when empty)")
	ttsCmd.Flags().StringVar(&ttsOut, "out", "speech.mp3", "output audio file")
	ttsCmd.MarkFlagRequired("text")
}

func runTTS(cmd *cobra.Command, _ []string) error {
	client, err := bridge.New(bridge.Config{URL: serverURL, Persona: personaID})
	if err != nil {
		return err
	}

	var (
		audioMu sync.Mutex
		audio   bytes.Buffer
	)
	done := make(chan error, 1)

	d := client.Dispatcher()
	d.OnAudioChunk(func(chunk []byte) {
		audioMu.Lock()
		audio.Write(chunk)
		audioMu.Unlock()
	})
	d.OnStatus(func(ev *bridge.ControlEvent) {
		if ev.Status == bridge.StatusEventDone || ev.Status == bridge.StatusEventInterrupted {
			select {
			case done <- nil:
			default:
			}
		}
	})
	d.OnError(func(err error) {
		select {
		case done <- err:
		default:
		}
	})

	ctx := cmd.Context()
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Disconnect()

	if err := client.Speak(ttsText, ttsVoice); err != nil {
		return err
	}

	select {
	case err := <-done:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Minute):
		return fmt.Errorf("timed out waiting for synthesis")
	}

	audioMu.Lock()
	data := audio.Bytes()
	audioMu.Unlock()
	if err := os.WriteFile(ttsOut, data, 0o644); err != nil {
		return fmt.Errorf("writing audio: %w", err)
	}
	fmt.Printf("wrote %d bytes of audio to %s\n", len(data), ttsOut)
	return nil
}
