package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/eleven-am/stt-gateway/internal/audio"
	"github.com/eleven-am/stt-gateway/internal/gateway"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var logger = log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true})

var rootCmd = &cobra.Command{
	Use:   "sttprobe [file]",
	Short: "Stream an audio file to the STT gateway and print the events",
	Long: `sttprobe reads 16-bit little-endian PCM (or a WAV file, whose header is
stripped), sends it to the gateway websocket in fixed-size frames and prints
every event the gateway returns.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runProbe,
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.Flags()
	flags.String("url", "ws://localhost:8080/v1/stt/ws", "Gateway websocket URL")
	flags.String("provider", "", "Provider to request")
	flags.String("token", "", "Caller identity passed as the token parameter")
	flags.String("file", "", "PCM or WAV file to stream")
	flags.Int("frame-bytes", 3200, "Bytes per binary frame")
	flags.Duration("interval", 100*time.Millisecond, "Delay between frames")
	flags.Duration("wait", 5*time.Second, "How long to wait for results after the last frame")

	for _, name := range []string{"url", "provider", "token", "file", "frame-bytes", "interval", "wait"} {
		viper.BindPFlag(strings.ReplaceAll(name, "-", "_"), flags.Lookup(name))
	}
}

func initConfig() {
	viper.SetEnvPrefix("sttprobe")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func probeURL() (string, error) {
	u, err := url.Parse(viper.GetString("url"))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	if p := viper.GetString("provider"); p != "" {
		q.Set("provider", p)
	}
	if t := viper.GetString("token"); t != "" {
		q.Set("token", t)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func loadAudio(args []string) ([]byte, error) {
	path := viper.GetString("file")
	if len(args) > 0 {
		path = args[0]
	}
	if path == "" {
		return nil, errors.New("no audio file given")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	if audio.IsWAV(data) {
		data = audio.StripWAVHeader(data)
	}
	return data, nil
}

func runProbe(cmd *cobra.Command, args []string) error {
	pcm, err := loadAudio(args)
	if err != nil {
		return err
	}
	target, err := probeURL()
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(cmd.Context(), target, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", target, err)
	}
	defer conn.Close()
	logger.Info("connected", "url", target, "bytes", len(pcm))

	done := make(chan struct{})
	go func() {
		defer close(done)
		printEvents(conn)
	}()

	frameBytes := viper.GetInt("frame_bytes")
	if frameBytes <= 0 {
		frameBytes = len(pcm)
	}
	interval := viper.GetDuration("interval")

	for off := 0; off < len(pcm); off += frameBytes {
		end := min(off+frameBytes, len(pcm))
		if err := conn.WriteMessage(websocket.BinaryMessage, pcm[off:end]); err != nil {
			logger.Warn("send failed", "error", err)
			break
		}
		select {
		case <-done:
			return nil
		case <-time.After(interval):
		}
	}

	if err := conn.WriteMessage(websocket.BinaryMessage, []byte{}); err != nil {
		logger.Warn("keepalive failed", "error", err)
	}

	select {
	case <-done:
	case <-time.After(viper.GetDuration("wait")):
		logger.Info("wait elapsed, closing")
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		<-done
	}
	return nil
}

func printEvents(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				logger.Debug("read ended", "error", err)
			}
			return
		}

		var ev map[string]any
		if err := json.Unmarshal(data, &ev); err != nil {
			logger.Warn("undecodable event", "data", string(data))
			continue
		}
		switch ev["type"] {
		case gateway.EventTypeTranscript:
			logger.Info("transcript", "final", ev["is_final"], "text", ev["text"], "provider", ev["provider"])
		case gateway.EventTypeError:
			logger.Error("gateway error", "code", ev["code"], "error", ev["error"])
		default:
			logger.Info(fmt.Sprint(ev["type"]), "event", string(data))
		}
	}
}
