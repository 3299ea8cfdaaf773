package ghtraffic

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// The loading pipeline starts with an io.Reader (the embedded data file or
// a file given on the command line). A StringReader splits it into fields,
// the TextToRecordReader turns the fields into Records, and ReadDataset
// drains the whole thing into a validated Dataset.

var errIgnoreThisRow = errors.New("ignore this row")

// When Read is called, return an array of strings which are the fields of
// one line.
type StringReader interface {
	Read(context.Context) ([]string, error)
}

// When Read is called, return the next Record, or io.EOF once the input is
// exhausted.
type RecordReader interface {
	Read(context.Context) (Record, error)
}

// CsvStringReader reads an io.Reader using the Golang csv module, which
// means the input must strictly conform to CSV. Lines starting with # are
// skipped, as the data files carry caveat comments. If the input is not
// exactly CSV (for example separated by one or more spaces), use the
// RelaxedStringReader.
type CsvStringReader struct {
	input     io.Reader
	csvReader *csv.Reader

	lineCount int
}

func NewCsvStringReader(input io.Reader) *CsvStringReader {
	csvReader := csv.NewReader(input)
	csvReader.Comment = '#'
	csvReader.TrimLeadingSpace = true

	return &CsvStringReader{
		input:     input,
		csvReader: csvReader,
		lineCount: 0,
	}
}

func (r *CsvStringReader) Read(ctx context.Context) ([]string, error) {
	line, err := r.csvReader.Read()
	if err == io.EOF {
		return nil, io.EOF
	}

	r.lineCount++

	if err != nil {
		logger := logrus.WithFields(logrus.Fields{
			"tag":     "CsvString",
			"line":    line,
			"lineNum": r.lineCount,
		})

		switch err.(type) {
		case *csv.ParseError:
			logger.WithError(err).Debug("unable to parse CSV, ignoring...")
			return nil, errIgnoreThisRow
		default:
			logger.WithError(err).Error("unable to read CSV")
			return nil, err
		}
	}

	return line, nil
}

// RelaxedStringReader splits on commas or any run of spaces and tabs, so
// hand-maintained stats files load without strict CSV quoting. Comment
// lines starting with # are skipped here too.
type RelaxedStringReader struct {
	input   io.Reader
	scanner *bufio.Scanner

	lineCount int
}

func NewRelaxedStringReader(input io.Reader) *RelaxedStringReader {
	return &RelaxedStringReader{
		input:   input,
		scanner: bufio.NewScanner(input),

		lineCount: 0,
	}
}

// Split on either comma or any number of spaces or tabs
var relaxedSplitter = regexp.MustCompile("[ \t]+|,")

func (r *RelaxedStringReader) Read(ctx context.Context) ([]string, error) {
	for {
		stillHasData := r.scanner.Scan()
		if !stillHasData {
			return nil, io.EOF
		}

		r.lineCount++

		line := r.scanner.Text()
		err := r.scanner.Err()
		if err != nil {
			logrus.WithField("tag", "RelaxedString").WithError(err).Error("unable to read line")
			return nil, err
		}

		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}

		// Return only non-empty fields
		splittedLine := Filter(relaxedSplitter.Split(line, -1), func(value string) bool {
			return len(value) > 0
		})

		if len(splittedLine) == 0 {
			continue
		}

		return splittedLine, nil
	}
}

// TextToRecordReader turns split lines into Records. A line is expected to
// hold a date in DateLayout followed by the page view and unique visitor
// counts. Unrecognized/unparsable lines are ignored and logged via
// warnings; structurally valid rows that break the dataset invariants are
// caught later by ReadDataset.
type TextToRecordReader struct {
	// The input reader object (either CsvStringReader or RelaxedStringReader)
	Input StringReader
}

func (r *TextToRecordReader) Read(ctx context.Context) (Record, error) {
	line, err := r.Input.Read(ctx)
	if err != nil {
		return Record{}, err
	}

	logger := logrus.WithFields(logrus.Fields{
		"tag":  "TextToRecord",
		"line": line,
	})

	if len(line) != 3 {
		logger.Warnf("expected 3 fields (date, views, unique visitors), got %d, ignoring...", len(line))
		return Record{}, errIgnoreThisRow
	}

	date, err := time.ParseInLocation(DateLayout, strings.TrimSpace(line[0]), time.UTC)
	if err != nil {
		logger.Warn("cannot parse date, ignoring...")
		return Record{}, errIgnoreThisRow
	}

	views, err := strconv.Atoi(strings.TrimSpace(line[1]))
	if err != nil {
		logger.Warn("cannot parse view count, ignoring...")
		return Record{}, errIgnoreThisRow
	}

	uniqueVisitors, err := strconv.Atoi(strings.TrimSpace(line[2]))
	if err != nil {
		logger.Warn("cannot parse unique visitor count, ignoring...")
		return Record{}, errIgnoreThisRow
	}

	return Record{
		Date:           date,
		Views:          views,
		UniqueVisitors: uniqueVisitors,
	}, nil
}

// ReadDataset drains a RecordReader and validates the result into a
// Dataset. Rows the reader flags as ignorable are skipped; any other read
// error is returned as-is, and invariant violations surface as
// *InvalidRecordError from NewDataset.
func ReadDataset(ctx context.Context, reader RecordReader) (*Dataset, error) {
	var records []Record

	for {
		record, err := reader.Read(ctx)
		if err == errIgnoreThisRow {
			continue
		} else if err == io.EOF {
			break
		} else if err != nil {
			return nil, err
		}

		records = append(records, record)
	}

	return NewDataset(records)
}

// datasetReader replays an already-loaded Dataset record by record. It is
// not safe for concurrent use; each consumer should get its own.
type datasetReader struct {
	dataset *Dataset
	next    int
}

func (r *datasetReader) Read(ctx context.Context) (Record, error) {
	if r.next >= r.dataset.Len() {
		return Record{}, io.EOF
	}

	record := r.dataset.records[r.next]
	r.next++
	return record, nil
}
