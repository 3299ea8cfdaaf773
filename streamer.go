package ghtraffic

import (
	"context"
	"io"
	"log/slog"
	"runtime/trace"
	"sync"
	"sync/atomic"
)

// Streamer drains a RecordReader and fans the records out to registered
// channels (one per websocket client). Every record is also kept in a
// replay buffer so late subscribers receive the full dataset before any
// live rows. The datasets served here are finite, so the buffer is
// unbounded: the stream ends after the last record instead of rolling
// over.
type Streamer struct {
	input RecordReader

	mutex sync.Mutex
	wg    sync.WaitGroup

	// If the stream is ended or not
	streamEnded atomic.Bool
	err         error // The error emitted by run(), if any. Should be read after streamEnded == true to ensure no data race.

	// These are channels from open websockets where we are sending data to.
	// Channels should be buffered, to not block the Streamer.
	channelsForLiveUpdate []chan<- Record

	// Replay buffer. Everything read so far, including the end-of-stream
	// marker once the input is drained.
	replayBuffer []Record

	numRecordsEmitted int

	logger *slog.Logger
}

func NewStreamer(input RecordReader) *Streamer {
	return &Streamer{
		input: input,

		mutex:                 sync.Mutex{},
		channelsForLiveUpdate: make([]chan<- Record, 0),
		replayBuffer:          nil,
		numRecordsEmitted:     0,
		logger:                slog.Default().With("tag", "Streamer"),
	}
}

func (s *Streamer) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := s.run(ctx)

		s.err = err

		// Must set all variables to be read after the Streamer is complete
		// before this, as this atomic is used to "release" all the other
		// variables (see Golang memory model)
		s.streamEnded.Store(true)

		// The end marker goes through the same buffer-and-broadcast path as
		// data, so clients that connect after the dataset is fully replayed
		// still see the stream end.
		s.bufferAndBroadcast(ctx, Record{
			streamEnded: true,
			streamErr:   err,
		})

		logger := s.logger.With("numRecordsEmitted", s.numRecordsEmitted)
		if err != nil {
			logger = logger.With("error", err)
		}
		logger.Info("record stream ended")
	}()
}

func (s *Streamer) Wait() {
	s.wg.Wait()
}

// Err returns the stream error, if any. Only valid after the stream ended.
func (s *Streamer) Err() error {
	if !s.streamEnded.Load() {
		return nil
	}
	return s.err
}

// Register a new channel. Called from the HTTP server when a new websocket
// connection is initiated.
//
// We take the Streamer mutex while pushing the replay buffer to the new
// channel, so no record can be broadcast to the live channels in between:
// the client sees the full history followed seamlessly by anything still
// arriving. The cost is that all clients briefly pause while a new one
// joins, which is acceptable because joins are rare (a new browser tab).
//
// - ctx: is the HTTP call context.
// - c: is the channel to send data on. This should be a buffered channel with capacity for the whole dataset, as a blocked channel blocks everything.
func (s *Streamer) RegisterChannel(ctx context.Context, c chan<- Record) {
	traceCtx, task := trace.NewTask(ctx, "RegisterChannel")
	defer task.End()

	trace.WithRegion(traceCtx, "Lock", s.mutex.Lock)
	defer s.mutex.Unlock()

	// First, we push all the buffered records to this channel to make sure it
	// has the full history.
	trace.WithRegion(traceCtx, "pushReplayBufferToChannel", func() {
		for _, record := range s.replayBuffer {
			c <- record
		}
	})

	// Second, we add the channel into the list of channels we want to live update.
	s.channelsForLiveUpdate = append(s.channelsForLiveUpdate, c)

	s.logger.With(
		"replayed", len(s.replayBuffer),
		"channels", len(s.channelsForLiveUpdate),
	).Info("registered channel")
}

// Deregister a channel. Called when a websocket client disconnects. Note:
// the channel shouldn't be closed until this method returns, as it may
// cause panics otherwise.
func (s *Streamer) DeregisterChannel(ctx context.Context, c chan<- Record) {
	traceCtx, task := trace.NewTask(ctx, "DeregisterChannel")
	defer task.End()

	trace.WithRegion(traceCtx, "Lock", s.mutex.Lock)
	defer s.mutex.Unlock()

	s.channelsForLiveUpdate = Filter(s.channelsForLiveUpdate, func(channel chan<- Record) bool {
		return channel != c
	})
	s.logger.With(
		"channels", len(s.channelsForLiveUpdate),
	).Info("deregistered channel")
}

func (s *Streamer) run(ctx context.Context) error {
	var record Record
	var err error

	for {
		traceCtx, task := trace.NewTask(ctx, "StreamerLoop")

		trace.WithRegion(traceCtx, "RecordRead", func() {
			record, err = s.input.Read(traceCtx)
		})

		if err == errIgnoreThisRow {
			task.End()
			continue
		} else if err == io.EOF {
			// The dataset is fully replayed. We don't close anything because
			// new browser tabs can still come online and read the buffer.
			task.End()
			return nil
		} else if err != nil {
			task.End()
			return err
		}

		s.bufferAndBroadcast(traceCtx, record)
		task.End()
	}
}

func (s *Streamer) bufferAndBroadcast(traceCtx context.Context, record Record) {
	s.numRecordsEmitted++

	trace.WithRegion(traceCtx, "Lock", s.mutex.Lock)
	defer s.mutex.Unlock()

	s.logger.With(
		"date", record.Date,
		"views", record.Views,
		"uniqueVisitors", record.UniqueVisitors,
	).Debug("new record")

	s.replayBuffer = append(s.replayBuffer, record)

	trace.WithRegion(traceCtx, "Broadcast", func() {
		for _, c := range s.channelsForLiveUpdate {
			c <- record
		}
	})
}
