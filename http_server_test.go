package ghtraffic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"testing"
	"time"

	"nhooyr.io/websocket"
)

// startTestServer wires a Streamer and HttpServer around the given records
// the same way the production code does. We deliberately do not call Run()
// to avoid binding a real port; httptest serves the same mux.
func startTestServer(t *testing.T, records []Record) (string, Metadata, func()) {
	t.Helper()

	dataset, err := NewDataset(records)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	variant, ok := LookupVariant("views")
	if !ok {
		t.Fatal("views variant missing")
	}
	metadata := NewMetadata(variant, dataset)

	streamer := NewStreamer(dataset.Reader())
	streamer.Start(context.Background())

	s := NewHttpServer(streamer, "127.0.0.1", 0, metadata, dataset, 10*time.Millisecond)
	srv := httptest.NewServer(s.mux)

	cleanup := func() {
		srv.Close()
		streamer.Wait()
	}

	return srv.URL, metadata, cleanup
}

func getJSON(t *testing.T, rawURL string, into interface{}) *http.Response {
	t.Helper()

	resp, err := http.Get(rawURL)
	if err != nil {
		t.Fatalf("GET %s: %v", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: unexpected status %d", rawURL, resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); got != "application/json" {
		t.Fatalf("GET %s: unexpected content type %q", rawURL, got)
	}

	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		t.Fatalf("GET %s: decode: %v", rawURL, err)
	}

	return resp
}

func TestHttpServerMetadata(t *testing.T) {
	baseURL, metadata, cleanup := startTestServer(t, testRecords())
	defer cleanup()

	var got Metadata
	getJSON(t, baseURL+"/metadata", &got)

	if !reflect.DeepEqual(got, metadata) {
		t.Fatalf("unexpected metadata: got %+v want %+v", got, metadata)
	}
}

func TestHttpServerRecords(t *testing.T) {
	baseURL, _, cleanup := startTestServer(t, testRecords())
	defer cleanup()

	var got []Record
	getJSON(t, baseURL+"/records", &got)

	if len(got) != len(testRecords()) {
		t.Fatalf("unexpected record count: got %d want %d", len(got), len(testRecords()))
	}
	for i, record := range testRecords() {
		if !got[i].Date.Equal(record.Date) || got[i].Views != record.Views || got[i].UniqueVisitors != record.UniqueVisitors {
			t.Fatalf("record %d mismatch: got %+v want %+v", i, got[i], record)
		}
	}
}

func TestHttpServerAggregates(t *testing.T) {
	baseURL, _, cleanup := startTestServer(t, testRecords())
	defer cleanup()

	t.Run("Summary", func(t *testing.T) {
		var got Summary
		getJSON(t, baseURL+"/summary", &got)

		if got.NumRecords != 3 || got.TotalViews != 274+145+129 {
			t.Fatalf("unexpected summary: %+v", got)
		}
	})

	t.Run("Weekly", func(t *testing.T) {
		var got []Bucket
		getJSON(t, baseURL+"/weekly", &got)

		// All three test records fall in the week of Monday 2014-Feb-17.
		if len(got) != 1 || got[0].Days != 3 || got[0].TotalViews != 274+145+129 {
			t.Fatalf("unexpected weekly buckets: %+v", got)
		}
	})

	t.Run("Monthly", func(t *testing.T) {
		var got []Bucket
		getJSON(t, baseURL+"/monthly", &got)

		if len(got) != 1 || got[0].Days != 3 {
			t.Fatalf("unexpected monthly buckets: %+v", got)
		}
	})
}

// dialWebSocket opens a websocket connection to the /ws endpoint for tests.
func dialWebSocket(t *testing.T, baseURL string) (*websocket.Conn, func()) {
	t.Helper()

	u, err := url.Parse(baseURL)
	if err != nil {
		t.Fatalf("parse baseURL: %v", err)
	}
	u.Scheme = "ws"
	u.Path = "/ws"

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}

	return c, func() { c.Close(websocket.StatusNormalClosure, "") }
}

// readStream reads protocol messages until STREAM_END or the websocket
// closes, accumulating the per-series data.
func readStream(t *testing.T, c *websocket.Conn) (metadata Metadata, series map[uint32][]int64, xs map[uint32][]int64, end StreamEndMessage) {
	t.Helper()

	series = map[uint32][]int64{}
	xs = map[uint32][]int64{}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sawMetadata := false
	for {
		msgType, data, err := c.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				t.Fatal("websocket closed before STREAM_END")
			}
			t.Fatalf("websocket read: %v", err)
		}

		if msgType != websocket.MessageBinary {
			t.Fatalf("unexpected websocket message type: %v", msgType)
		}

		msg, err := DecodeWSMessage(data)
		if err != nil {
			t.Fatalf("decode message: %v", err)
		}

		switch msg.Header.Type {
		case MessageTypeMetadata:
			if sawMetadata {
				t.Fatal("received metadata twice")
			}
			sawMetadata = true
			metadata = msg.Payload.(Metadata)
		case MessageTypeData:
			if !sawMetadata {
				t.Fatal("received data before metadata")
			}
			dataMsg := msg.Payload.(DataMessage)
			series[dataMsg.SeriesID] = append(series[dataMsg.SeriesID], dataMsg.Y...)
			xs[dataMsg.SeriesID] = append(xs[dataMsg.SeriesID], dataMsg.X...)
		case MessageTypeStreamEnd:
			end = msg.Payload.(StreamEndMessage)
			return metadata, series, xs, end
		default:
			t.Fatalf("unexpected message type 0x%02x", msg.Header.Type)
		}
	}
}

func TestHttpServerWebSocket(t *testing.T) {
	records := testRecords()
	baseURL, wantMetadata, cleanup := startTestServer(t, records)
	defer cleanup()

	c, closeWS := dialWebSocket(t, baseURL)
	defer closeWS()

	metadata, series, xs, end := readStream(t, c)

	if !reflect.DeepEqual(metadata, wantMetadata) {
		t.Fatalf("unexpected metadata: got %+v want %+v", metadata, wantMetadata)
	}
	if end.Error {
		t.Fatalf("expected clean stream end, got error: %s", end.Msg)
	}

	var wantViews, wantVisitors, wantDays []int64
	for _, record := range records {
		wantViews = append(wantViews, int64(record.Views))
		wantVisitors = append(wantVisitors, int64(record.UniqueVisitors))
		wantDays = append(wantDays, record.EpochDay())
	}

	if !reflect.DeepEqual(series[SeriesViews], wantViews) {
		t.Fatalf("unexpected views series: got %v want %v", series[SeriesViews], wantViews)
	}
	if !reflect.DeepEqual(series[SeriesUniqueVisitors], wantVisitors) {
		t.Fatalf("unexpected visitors series: got %v want %v", series[SeriesUniqueVisitors], wantVisitors)
	}
	if !reflect.DeepEqual(xs[SeriesViews], wantDays) {
		t.Fatalf("unexpected X values: got %v want %v", xs[SeriesViews], wantDays)
	}
}

func TestHttpServerWebSocketFullDataset(t *testing.T) {
	_, dataset, err := Views(context.Background())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	baseURL, _, cleanup := startTestServer(t, dataset.Records())
	defer cleanup()

	// Two clients, both should see the complete dataset.
	for i := 0; i < 2; i++ {
		c, closeWS := dialWebSocket(t, baseURL)

		_, series, _, end := readStream(t, c)
		if end.Error {
			t.Fatalf("client %d: stream ended with error: %s", i, end.Msg)
		}
		if len(series[SeriesViews]) != dataset.Len() {
			t.Fatalf("client %d: got %d views, want %d", i, len(series[SeriesViews]), dataset.Len())
		}
		if got := Sum(series[SeriesViews]); got != 55599 {
			t.Fatalf("client %d: views sum to %d, want 55599", i, got)
		}

		closeWS()
	}
}

func TestHttpServerUnknownRoute(t *testing.T) {
	baseURL, _, cleanup := startTestServer(t, testRecords())
	defer cleanup()

	resp, err := http.Get(fmt.Sprintf("%s/nope", baseURL))
	if err != nil {
		t.Fatalf("GET /nope: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unexpected status: got %d want %d", resp.StatusCode, http.StatusNotFound)
	}
}
