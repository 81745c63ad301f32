package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"SwingPull/internal/domain/models"
	"SwingPull/pkg/util"
)

// readBars parses time,open,high,low,close[,volume] rows. A leading header row is
// skipped when its first column is not a time.
func readBars(r io.Reader, symbol, tf string) ([]*models.Bar, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	var bars []*models.Bar
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		ts, ok := util.ParseTime(rec[0])
		if !ok {
			if line == 1 {
				continue
			}
			return nil, fmt.Errorf("line %d: bad time %q", line, rec[0])
		}
		if len(rec) < 5 {
			return nil, fmt.Errorf("line %d: want at least 5 columns, got %d", line, len(rec))
		}
		vals := make([]float64, 5)
		for i := 1; i < len(rec) && i <= 5; i++ {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[i]), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d column %d: %w", line, i+1, err)
			}
			vals[i-1] = v
		}
		bars = append(bars, &models.Bar{
			Symbol:    symbol,
			Timeframe: tf,
			Bucket:    ts,
			Open:      vals[0],
			High:      vals[1],
			Low:       vals[2],
			Close:     vals[3],
			Volume:    vals[4],
		})
	}
	return bars, nil
}
