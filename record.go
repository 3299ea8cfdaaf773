package ghtraffic

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// DateLayout is the date format used throughout: in the data files, in the
// JSON API and in the exported CSV. It matches the format GitHub's traffic
// pages used when this data was collected by hand.
const DateLayout = "2006-Jan-02"

// ErrInvalidRecord is wrapped by every validation failure raised while
// constructing a Dataset.
var ErrInvalidRecord = errors.New("invalid record")

// InvalidRecordError describes a record that violates the dataset
// invariants (out-of-order date, negative count). It is fatal: a dataset
// with a bad row is never partially accepted.
type InvalidRecordError struct {
	Index  int // position of the offending record in the input sequence
	Record Record
	Reason string
}

func (e *InvalidRecordError) Error() string {
	return fmt.Sprintf("%v at index %d (%s): %s", ErrInvalidRecord, e.Index, e.Record.Date.Format(DateLayout), e.Reason)
}

func (e *InvalidRecordError) Unwrap() error {
	return ErrInvalidRecord
}

// Record is one day's traffic: the calendar date, the page view count and
// the unique visitor count. Records are immutable values.
type Record struct {
	Date           time.Time
	Views          int
	UniqueVisitors int

	streamEnded bool
	streamErr   error
}

type recordJSON struct {
	Date           string `json:"date"`
	Views          int    `json:"views"`
	UniqueVisitors int    `json:"unique_visitors"`
}

func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(recordJSON{
		Date:           r.Date.Format(DateLayout),
		Views:          r.Views,
		UniqueVisitors: r.UniqueVisitors,
	})
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var rj recordJSON
	if err := json.Unmarshal(data, &rj); err != nil {
		return err
	}

	date, err := time.ParseInLocation(DateLayout, rj.Date, time.UTC)
	if err != nil {
		return fmt.Errorf("cannot parse record date %q: %w", rj.Date, err)
	}

	r.Date = date
	r.Views = rj.Views
	r.UniqueVisitors = rj.UniqueVisitors
	return nil
}

// EpochDay returns the number of days between the Unix epoch and the
// record's date. This is the X value used on the wire.
func (r Record) EpochDay() int64 {
	return r.Date.Unix() / 86400
}

// DateFromEpochDay is the inverse of Record.EpochDay.
func DateFromEpochDay(day int64) time.Time {
	return time.Unix(day*86400, 0).UTC()
}

// Dataset is an ordered, read-only sequence of daily records. It is
// validated on construction and never mutated afterwards, so it may be
// shared freely across goroutines.
type Dataset struct {
	records []Record
}

// NewDataset validates the given records and wraps them into a Dataset.
// Dates must be strictly increasing and both counts non-negative;
// violations return an *InvalidRecordError.
func NewDataset(records []Record) (*Dataset, error) {
	for i, record := range records {
		if record.Views < 0 {
			return nil, &InvalidRecordError{Index: i, Record: record, Reason: "negative view count"}
		}

		if record.UniqueVisitors < 0 {
			return nil, &InvalidRecordError{Index: i, Record: record, Reason: "negative unique visitor count"}
		}

		if i > 0 && !records[i-1].Date.Before(record.Date) {
			return nil, &InvalidRecordError{Index: i, Record: record, Reason: "date not after previous record"}
		}
	}

	return &Dataset{records: records}, nil
}

// Records returns the full dataset in chronological order. Callers must
// treat the returned slice as read-only.
func (d *Dataset) Records() []Record {
	return d.records
}

func (d *Dataset) Len() int {
	return len(d.records)
}

// At looks up the record for a single day. The time component of date is
// ignored.
func (d *Dataset) At(date time.Time) (Record, bool) {
	y, m, day := date.UTC().Date()
	want := time.Date(y, m, day, 0, 0, 0, 0, time.UTC)

	// Dates are sorted so a binary search would work, but the dataset is
	// small and this is not a hot path.
	for _, record := range d.records {
		if record.Date.Equal(want) {
			return record, true
		}
	}

	return Record{}, false
}

func (d *Dataset) First() Record {
	return d.records[0]
}

func (d *Dataset) Last() Record {
	return d.records[len(d.records)-1]
}

// Reader returns a RecordReader that yields every record in order and then
// io.EOF. This is how a Dataset is fed into the Streamer.
func (d *Dataset) Reader() RecordReader {
	return &datasetReader{dataset: d}
}
