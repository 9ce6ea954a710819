package telemetry

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Band is the ideal soil-moisture range for a crop, in percent.
type Band struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

var DefaultBand = Band{Min: 40, Max: 70}

type Level string

const (
	LevelDry Level = "dry"
	LevelOK  Level = "ok"
	LevelWet Level = "wet"
)

func (b Band) Classify(v float64) Level {
	switch {
	case v < b.Min:
		return LevelDry
	case v > b.Max:
		return LevelWet
	}
	return LevelOK
}

// Bands maps crop types to moisture bands. Unknown crops get the default.
type Bands struct {
	def    Band
	byCrop map[string]Band
}

func DefaultBands() *Bands { return &Bands{def: DefaultBand, byCrop: map[string]Band{}} }

func (b *Bands) For(crop string) Band {
	if b == nil {
		return DefaultBand
	}
	if band, ok := b.byCrop[normCrop(crop)]; ok {
		return band
	}
	return b.def
}

func (b *Bands) Len() int { return len(b.byCrop) }

func normCrop(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// LoadBands reads a crop_type,min,max table from a .csv or .xlsx file. A row
// whose crop is "default" or "*" replaces the default band.
func LoadBands(path string) (*Bands, error) {
	var (
		rows [][]string
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		rows, err = readCSV(path)
	case ".xlsx":
		rows, err = readXLSX(path)
	default:
		return nil, fmt.Errorf("moisture bands: unsupported file type %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("moisture bands: %w", err)
	}
	return parseBands(rows)
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1
	var rows [][]string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, rec)
	}
}

func readXLSX(path string) ([][]string, error) {
	x, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer x.Close()

	sheets := x.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	return x.GetRows(sheets[0])
}

func parseBands(rows [][]string) (*Bands, error) {
	if len(rows) == 0 {
		return nil, errors.New("moisture bands: empty table")
	}

	norm := func(s string) string {
		s = strings.TrimSpace(s)
		s = strings.TrimPrefix(s, "\uFEFF")
		s = strings.ToLower(s)
		s = strings.ReplaceAll(s, " ", "")
		s = strings.ReplaceAll(s, "-", "")
		s = strings.ReplaceAll(s, "_", "")
		return s
	}
	hmap := map[string]int{}
	for i, h := range rows[0] {
		hmap[norm(h)] = i
	}
	findAny := func(keys ...string) int {
		for _, k := range keys {
			if idx, ok := hmap[norm(k)]; ok {
				return idx
			}
		}
		return -1
	}

	cCrop := findAny("crop_type", "crop", "croptype")
	cMin := findAny("min", "min_pct", "moisture_min", "lower")
	cMax := findAny("max", "max_pct", "moisture_max", "upper")
	if cCrop == -1 || cMin == -1 || cMax == -1 {
		return nil, fmt.Errorf("moisture bands: need crop_type, min, max columns, found %v", rows[0])
	}

	b := DefaultBands()
	for n, rec := range rows[1:] {
		get := func(idx int) string {
			if idx >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[idx])
		}
		crop := normCrop(get(cCrop))
		if crop == "" {
			continue
		}
		lo, err1 := strconv.ParseFloat(get(cMin), 64)
		hi, err2 := strconv.ParseFloat(get(cMax), 64)
		if err1 != nil || err2 != nil || lo < 0 || hi > 100 || lo > hi {
			return nil, fmt.Errorf("moisture bands: row %d: invalid range %q..%q", n+2, get(cMin), get(cMax))
		}
		band := Band{Min: lo, Max: hi}
		if crop == "default" || crop == "*" {
			b.def = band
			continue
		}
		b.byCrop[crop] = band
	}
	return b, nil
}
