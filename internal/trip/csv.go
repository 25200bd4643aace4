package trip

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// TimestampLayout is the per-row timestamp format of the CSV log.
const TimestampLayout = "2006-01-02 15:04:05.000"

// FlushEvery is how many rows the log buffers between flushes.
const FlushEvery = 50

var Header = []string{"timestamp", "lat", "lng", "altitude", "speed_mps", "accuracy", "satellites", "ax", "ay", "az", "gx", "gy", "gz"}

// LogWriter streams frames to a CSV log while a trip is recorded.
type LogWriter struct {
	cw     *csv.Writer
	closer io.Closer
	rows   int
}

// NewLogWriter writes the header and returns a writer for w. If w is an
// io.Closer it is closed by Close.
func NewLogWriter(w io.Writer) (*LogWriter, error) {
	l := &LogWriter{cw: csv.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		l.closer = c
	}
	if err := l.cw.Write(Header); err != nil {
		return nil, err
	}
	l.cw.Flush()
	return l, l.cw.Error()
}

// CreateLog opens TransitLK_<yyyyMMdd_HHmmss>.csv in dir.
func CreateLog(dir string, start time.Time) (*LogWriter, string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, "", err
	}
	path := filepath.Join(dir, "TransitLK_"+start.Format("20060102_150405")+".csv")
	f, err := os.Create(path)
	if err != nil {
		return nil, "", err
	}
	l, err := NewLogWriter(f)
	if err != nil {
		f.Close()
		return nil, "", err
	}
	return l, path, nil
}

// Append writes one row, flushing every FlushEvery rows.
func (l *LogWriter) Append(f Frame) error {
	if err := l.cw.Write(record(f)); err != nil {
		return err
	}
	l.rows++
	if l.rows%FlushEvery == 0 {
		l.cw.Flush()
		return l.cw.Error()
	}
	return nil
}

func (l *LogWriter) Rows() int { return l.rows }

func (l *LogWriter) Close() error {
	l.cw.Flush()
	err := l.cw.Error()
	if l.closer != nil {
		if cerr := l.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// WriteCSV writes the header and all frames to w.
func WriteCSV(w io.Writer, frames []Frame) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, f := range frames {
		if err := cw.Write(record(f)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV parses a log produced by LogWriter or WriteCSV. Timestamps are
// interpreted in loc; nil means time.Local.
func ReadCSV(r io.Reader, loc *time.Location) ([]Frame, error) {
	if loc == nil {
		loc = time.Local
	}
	cr := csv.NewReader(bufio.NewReader(r))
	cr.FieldsPerRecord = len(Header)
	cr.TrimLeadingSpace = true

	head, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if strings.Join(head, ",") != strings.Join(Header, ",") {
		return nil, fmt.Errorf("unexpected header %q", strings.Join(head, ","))
	}

	var frames []Frame
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return frames, nil
		}
		if err != nil {
			return nil, err
		}
		f, err := parseRecord(rec, loc)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		frames = append(frames, f)
	}
}

func record(f Frame) []string {
	ff := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return []string{
		f.Timestamp.Format(TimestampLayout),
		ff(f.Lat), ff(f.Lng), ff(f.Altitude), ff(f.Speed), ff(f.Accuracy),
		strconv.Itoa(f.Satellites),
		ff(f.AX), ff(f.AY), ff(f.AZ),
		ff(f.GX), ff(f.GY), ff(f.GZ),
	}
}

func parseRecord(rec []string, loc *time.Location) (Frame, error) {
	ts, err := time.ParseInLocation(TimestampLayout, rec[0], loc)
	if err != nil {
		return Frame{}, fmt.Errorf("timestamp: %w", err)
	}
	var vals [12]float64
	for i := range vals {
		if i == 5 {
			continue // satellites
		}
		v, err := strconv.ParseFloat(rec[i+1], 64)
		if err != nil {
			return Frame{}, fmt.Errorf("%s: %w", Header[i+1], err)
		}
		vals[i] = v
	}
	sats, err := strconv.Atoi(rec[6])
	if err != nil {
		return Frame{}, fmt.Errorf("satellites: %w", err)
	}
	return Frame{
		Timestamp:  ts,
		Lat:        vals[0],
		Lng:        vals[1],
		Altitude:   vals[2],
		Speed:      vals[3],
		Accuracy:   vals[4],
		Satellites: sats,
		AX:         vals[6],
		AY:         vals[7],
		AZ:         vals[8],
		GX:         vals[9],
		GY:         vals[10],
		GZ:         vals[11],
	}, nil
}
