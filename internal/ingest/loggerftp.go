package ingest

import (
	"bytes"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
)

const (
	ftpDialTimeout = 30 * time.Second
	defaultDropDir = "/drops"
)

// LoggerFTP pulls temperature-logger CSV drops from the base station.
// Loggers upload a file per flush; re-reading an old drop is harmless
// because readings insert with conflict-ignore on (container, read_at).
type LoggerFTP struct {
	host string
	user string
	pass string
	dir  string
}

func NewLoggerFTP(host, user, pass, dir string) *LoggerFTP {
	if user == "" {
		user = "anonymous"
	}
	if pass == "" {
		pass = "anonymous"
	}
	if dir == "" {
		dir = defaultDropDir
	}
	return &LoggerFTP{host: host, user: user, pass: pass, dir: dir}
}

// Endpoint names the drop location for telemetry run records.
func (c *LoggerFTP) Endpoint() string {
	return c.host + c.dir
}

// LoggerReading is one parsed CSV line, still keyed by logger serial.
// The scheduler maps serials to containers before insert.
type LoggerReading struct {
	LoggerID    string
	ReadAt      time.Time
	TempC       float64
	OxygenMgL   sql.NullFloat64
	SalinityPPT sql.NullFloat64
}

// FetchDrops retrieves every CSV drop in the configured directory and
// returns the parsed readings, the concatenated raw bodies, and the
// count of lines that failed to parse.
func (c *LoggerFTP) FetchDrops() ([]LoggerReading, []byte, int, error) {
	conn, err := ftp.Dial(c.host, ftp.DialWithTimeout(ftpDialTimeout))
	if err != nil {
		return nil, nil, 0, fmt.Errorf("ftp dial: %w", err)
	}
	defer conn.Quit()

	if err := conn.Login(c.user, c.pass); err != nil {
		return nil, nil, 0, fmt.Errorf("ftp login: %w", err)
	}

	entries, err := conn.List(c.dir)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("ftp list %s: %w", c.dir, err)
	}

	var (
		readings []LoggerReading
		raw      bytes.Buffer
		badLines int
	)
	for _, e := range entries {
		if e.Type != ftp.EntryTypeFile || !strings.HasSuffix(e.Name, ".csv") {
			continue
		}

		resp, err := conn.Retr(path.Join(c.dir, e.Name))
		if err != nil {
			return readings, raw.Bytes(), badLines, fmt.Errorf("ftp retr %s: %w", e.Name, err)
		}
		body, err := io.ReadAll(resp)
		resp.Close()
		if err != nil {
			return readings, raw.Bytes(), badLines, fmt.Errorf("read %s: %w", e.Name, err)
		}
		raw.Write(body)

		rs, bad := ParseLoggerCSV(body)
		readings = append(readings, rs...)
		badLines += bad
	}

	return readings, raw.Bytes(), badLines, nil
}

// ParseLoggerCSV parses one drop file. Lines are
// logger_id,timestamp,temp_c[,oxygen_mg_l[,salinity_ppt]], timestamps
// RFC3339 or "2006-01-02 15:04:05" UTC, optional header row. Unparsable
// lines are counted rather than fatal: one corrupt flush line must not
// discard the rest of the drop.
func ParseLoggerCSV(data []byte) ([]LoggerReading, int) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	var readings []LoggerReading
	badLines := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			badLines++
			continue
		}
		if len(record) < 3 {
			badLines++
			continue
		}
		if record[0] == "logger_id" {
			continue
		}

		readAt, err := parseLoggerTime(record[1])
		if err != nil {
			badLines++
			continue
		}
		temp, err := strconv.ParseFloat(strings.TrimSpace(record[2]), 64)
		if err != nil {
			badLines++
			continue
		}

		lr := LoggerReading{
			LoggerID: strings.TrimSpace(record[0]),
			ReadAt:   readAt.UTC(),
			TempC:    temp,
		}
		if len(record) > 3 && strings.TrimSpace(record[3]) != "" {
			if v, err := strconv.ParseFloat(strings.TrimSpace(record[3]), 64); err == nil {
				lr.OxygenMgL = sql.NullFloat64{Float64: v, Valid: true}
			}
		}
		if len(record) > 4 && strings.TrimSpace(record[4]) != "" {
			if v, err := strconv.ParseFloat(strings.TrimSpace(record[4]), 64); err == nil {
				lr.SalinityPPT = sql.NullFloat64{Float64: v, Valid: true}
			}
		}
		readings = append(readings, lr)
	}

	return readings, badLines
}

func parseLoggerTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", s)
}
