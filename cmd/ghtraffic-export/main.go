package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strconv"

	"github.com/lcnsqr/ghtraffic"
	"nhooyr.io/websocket"
)

// Config holds the configuration for the export tool
type Config struct {
	ServerURL string
	Output    io.Writer
	Logger    *slog.Logger
}

// Exporter reads from a ghtraffic server's /ws endpoint and outputs the
// record stream as CSV data
type Exporter struct {
	config    Config
	csvWriter *csv.Writer
}

// NewExporter creates a new exporter with the given configuration
func NewExporter(config Config) *Exporter {
	return &Exporter{
		config:    config,
		csvWriter: csv.NewWriter(config.Output),
	}
}

// Connect establishes the websocket connection and processes messages
func (e *Exporter) Connect() error {
	u, err := url.Parse(e.config.ServerURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}

	// Change scheme to websocket
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}

	u.Path = "/ws"

	e.config.Logger.Info("Connecting to websocket", "url", u.String())

	ctx := context.Background()
	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect to websocket: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Write CSV header
	if err := e.csvWriter.Write([]string{"series_id", "date", "count"}); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for {
		_, messageData, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				e.config.Logger.Info("Connection closed normally")
				break
			}
			e.config.Logger.Error("Error reading message", "error", err)
			break
		}

		if err := e.processMessage(messageData); err != nil {
			if err == io.EOF {
				e.config.Logger.Info("Stream ended")
				break
			}
			e.config.Logger.Error("Error processing message", "error", err)
		}
	}

	e.csvWriter.Flush()
	return e.csvWriter.Error()
}

// processMessage processes a single websocket message
func (e *Exporter) processMessage(messageData []byte) error {
	msg, err := ghtraffic.DecodeWSMessage(messageData)
	if err != nil {
		return fmt.Errorf("failed to decode message: %w", err)
	}

	switch msg.Header.Type {
	case ghtraffic.MessageTypeData:
		dataMsg, ok := msg.Payload.(ghtraffic.DataMessage)
		if !ok {
			return fmt.Errorf("invalid DATA message payload type: %T", msg.Payload)
		}
		return e.processDataMessage(dataMsg)

	case ghtraffic.MessageTypeMetadata:
		metadata, ok := msg.Payload.(ghtraffic.Metadata)
		if !ok {
			return fmt.Errorf("invalid METADATA message payload type: %T", msg.Payload)
		}
		e.config.Logger.Debug("Received metadata", "metadata", metadata)

	case ghtraffic.MessageTypeStreamEnd:
		streamEnd, ok := msg.Payload.(ghtraffic.StreamEndMessage)
		if !ok {
			return fmt.Errorf("invalid STREAM_END message payload type: %T", msg.Payload)
		}
		if streamEnd.Error {
			e.config.Logger.Error("Stream ended with error", "message", streamEnd.Msg)
		} else {
			e.config.Logger.Info("Stream ended successfully", "message", streamEnd.Msg)
		}
		return io.EOF // Signal end of stream

	default:
		e.config.Logger.Warn("Unknown message type", "type", fmt.Sprintf("0x%02x", msg.Header.Type))
	}

	return nil
}

// processDataMessage processes a DATA message and writes CSV rows
func (e *Exporter) processDataMessage(dataMsg ghtraffic.DataMessage) error {
	seriesID := strconv.FormatUint(uint64(dataMsg.SeriesID), 10)

	for i := 0; i < len(dataMsg.X); i++ {
		row := []string{
			seriesID,
			ghtraffic.DateFromEpochDay(dataMsg.X[i]).Format(ghtraffic.DateLayout),
			strconv.FormatInt(dataMsg.Y[i], 10),
		}
		if err := e.csvWriter.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	e.csvWriter.Flush()
	return e.csvWriter.Error()
}

func main() {
	var serverURL = flag.String("url", "http://localhost:5274", "URL of the ghtraffic server")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	config := Config{
		ServerURL: *serverURL,
		Output:    os.Stdout,
		Logger:    logger,
	}

	exporter := NewExporter(config)
	if err := exporter.Connect(); err != nil {
		config.Logger.Error("Failed to connect", "error", err)
		os.Exit(1)
	}
}
