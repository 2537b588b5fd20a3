package utils

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"fractalTrader/internal/domain"
)

var candleHeader = []string{"open_time", "close_time", "symbol", "interval", "open", "high", "low", "close", "volume"}

// WriteCandlesToCSV writes candles to filename, creating parent directories.
func WriteCandlesToCSV(candles []domain.Candle, symbol, interval, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()
	return WriteCandles(file, candles, symbol, interval)
}

// WriteCandles writes a header line followed by one row per candle.
func WriteCandles(w io.Writer, candles []domain.Candle, symbol, interval string) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(candleHeader); err != nil {
		return err
	}
	for _, c := range candles {
		err := writer.Write([]string{
			c.Time.UTC().Format(time.RFC3339),
			c.CloseTime.UTC().Format(time.RFC3339),
			symbol,
			interval,
			strconv.FormatFloat(c.Open, 'f', -1, 64),
			strconv.FormatFloat(c.High, 'f', -1, 64),
			strconv.FormatFloat(c.Low, 'f', -1, 64),
			strconv.FormatFloat(c.Close, 'f', -1, 64),
			strconv.FormatFloat(c.Volume, 'f', -1, 64),
		})
		if err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// ReadCandles parses rows written by WriteCandles.
func ReadCandles(r io.Reader) ([]domain.Candle, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(candleHeader)
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	candles := make([]domain.Candle, 0, len(rows)-1)
	for i, row := range rows[1:] {
		c, err := parseRow(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		candles = append(candles, c)
	}
	return candles, nil
}

func parseRow(row []string) (domain.Candle, error) {
	var c domain.Candle
	var err error
	if c.Time, err = time.Parse(time.RFC3339, row[0]); err != nil {
		return c, err
	}
	if c.CloseTime, err = time.Parse(time.RFC3339, row[1]); err != nil {
		return c, err
	}
	values := []*float64{&c.Open, &c.High, &c.Low, &c.Close, &c.Volume}
	for i, dst := range values {
		if *dst, err = strconv.ParseFloat(row[4+i], 64); err != nil {
			return c, err
		}
	}
	return c, nil
}
