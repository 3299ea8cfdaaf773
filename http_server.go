package ghtraffic

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"nhooyr.io/websocket"
)

const bufferSize = 10000

// HttpServer exposes a loaded dataset to the external renderer: the
// presentation metadata and records as JSON, the weekly/monthly bins the
// two plots are built from, and a websocket that replays the record stream
// using the binary protocol in ws_protocol.go.
type HttpServer struct {
	streamer      *Streamer
	host          string
	port          int
	metadata      Metadata
	dataset       *Dataset
	flushInterval time.Duration
	mux           *http.ServeMux
	logger        logrus.FieldLogger
}

func NewHttpServer(streamer *Streamer, host string, port int, metadata Metadata, dataset *Dataset, flushInterval time.Duration) *HttpServer {
	s := &HttpServer{
		streamer:      streamer,
		host:          host,
		port:          port,
		metadata:      metadata,
		dataset:       dataset,
		flushInterval: flushInterval,
		mux:           http.NewServeMux(),
		logger:        logrus.WithField("tag", "HttpServer"),
	}

	s.mux.HandleFunc("/metadata", s.handleMetadata)
	s.mux.HandleFunc("/records", s.handleRecords)
	s.mux.HandleFunc("/summary", s.handleSummary)
	s.mux.HandleFunc("/weekly", s.handleWeekly)
	s.mux.HandleFunc("/monthly", s.handleMonthly)
	s.mux.HandleFunc("/ws", s.handleWebSocket)

	return s
}

func (s *HttpServer) handleWebSocket(w http.ResponseWriter, req *http.Request) {
	c, err := websocket.Accept(w, req, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.WithError(err).Warn("failed to accept new websocket connection")
		return
	}

	ctx := req.Context()
	ctx = c.CloseRead(ctx) // We never read from the websocket, we only write to it.

	// The renderer needs the metadata before any data to label the series.
	if err := s.writeMessage(ctx, c, WSMessage{
		Header:  EnvelopeHeader{Version: ProtocolVersion, Type: MessageTypeMetadata},
		Payload: s.metadata,
	}); err != nil {
		s.logger.WithError(err).Warn("failed to write metadata message, closing websocket")
		c.Close(websocket.StatusInternalError, "metadata write failed")
		return
	}

	channel := make(chan Record, bufferSize)
	wg := sync.WaitGroup{}
	wg.Add(1)

	go func() {
		defer wg.Done()
		s.streamRecords(ctx, c, channel)
	}()

	// The channel is already being received from in another goroutine and we
	// register the channel in the handler thread.
	s.streamer.RegisterChannel(ctx, channel)

	// Once the websocket writing thread finishes, we want to deregister the
	// channel from the streamer.
	wg.Wait()
	s.streamer.DeregisterChannel(ctx, channel)
	close(channel)
}

// streamRecords batches records from channel and writes them as DATA
// messages every flushInterval, until the end-of-stream marker arrives or
// the client goes away.
func (s *HttpServer) streamRecords(ctx context.Context, c *websocket.Conn, channel <-chan Record) {
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	var batch []Record

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}

		views, visitors := NewDataMessages(batch)
		batch = batch[:0]

		for _, dataMsg := range []DataMessage{views, visitors} {
			err := s.writeMessage(ctx, c, WSMessage{
				Header:  EnvelopeHeader{Version: ProtocolVersion, Type: MessageTypeData},
				Payload: dataMsg,
			})
			if err != nil {
				return err
			}
		}

		return nil
	}

	for {
		select {
		case record, open := <-channel:
			if !open {
				s.logger.Warn("record channel closed, closing websocket")
				c.Close(websocket.StatusNormalClosure, "channel closed")
				return
			}

			if record.streamEnded {
				if err := flush(); err != nil {
					s.logger.Warn("websocket write failed and closed")
					return
				}

				end := StreamEndMessage{}
				if record.streamErr != nil {
					end.Error = true
					end.Msg = record.streamErr.Error()
				}

				if err := s.writeMessage(ctx, c, WSMessage{
					Header:  EnvelopeHeader{Version: ProtocolVersion, Type: MessageTypeStreamEnd},
					Payload: end,
				}); err != nil {
					s.logger.Warn("websocket write failed and closed")
					return
				}

				c.Close(websocket.StatusNormalClosure, "stream ended")
				return
			}

			batch = append(batch, record)
		case <-ticker.C:
			if err := flush(); err != nil {
				// At this point the websocket closed, so we don't even need to send anything
				s.logger.Warn("websocket write failed and closed")
				return
			}
		case <-ctx.Done():
			s.logger.Info("client closed connection or context canceled")
			c.Close(websocket.StatusNormalClosure, "")
			return
		}
	}
}

func (s *HttpServer) writeMessage(ctx context.Context, c *websocket.Conn, msg WSMessage) error {
	buf, err := EncodeWSMessage(msg)
	if err != nil {
		return err
	}

	return c.Write(ctx, websocket.MessageBinary, buf)
}

func (s *HttpServer) handleMetadata(w http.ResponseWriter, req *http.Request) {
	s.writeJSON(w, s.metadata)
}

func (s *HttpServer) handleRecords(w http.ResponseWriter, req *http.Request) {
	s.writeJSON(w, s.dataset.Records())
}

func (s *HttpServer) handleSummary(w http.ResponseWriter, req *http.Request) {
	s.writeJSON(w, Summarize(s.dataset))
}

func (s *HttpServer) handleWeekly(w http.ResponseWriter, req *http.Request) {
	s.writeJSON(w, WeeklyBuckets(s.dataset))
}

func (s *HttpServer) handleMonthly(w http.ResponseWriter, req *http.Request) {
	s.writeJSON(w, MonthlyBuckets(s.dataset))
}

func (s *HttpServer) writeJSON(w http.ResponseWriter, value interface{}) {
	w.Header().Add("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(value)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(err.Error()))
	}
}

func (s *HttpServer) Run() error {
	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	s.logger.Infof("starting HTTP server at http://%s", addr)
	return http.ListenAndServe(addr, s.mux)
}
