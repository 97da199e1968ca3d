package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"github.com/wonny/scengen/internal/contracts"
	"github.com/wonny/scengen/internal/risk"
)

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// WritePaths writes a T×N path matrix as `step,path_0,...,path_{N-1}`
func WritePaths(w io.Writer, prices mat.Matrix) error {
	rows, cols := prices.Dims()
	writer := csv.NewWriter(w)

	header := make([]string, cols+1)
	header[0] = "step"
	for j := 0; j < cols; j++ {
		header[j+1] = "path_" + strconv.Itoa(j)
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	record := make([]string, cols+1)
	for t := 0; t < rows; t++ {
		record[0] = strconv.Itoa(t)
		for j := 0; j < cols; j++ {
			record[j+1] = formatFloat(prices.At(t, j))
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteFan writes the per-step percentile fan as `step,mean,p<k>...`
func WriteFan(w io.Writer, pr *risk.ProductRisk) error {
	writer := csv.NewWriter(w)

	var keys []int
	if len(pr.Fan) > 0 {
		for p := range pr.Fan[0].Percentiles {
			keys = append(keys, p)
		}
	}
	sort.Ints(keys)

	header := []string{"step", "mean"}
	for _, p := range keys {
		header = append(header, "p"+strconv.Itoa(p))
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, band := range pr.Fan {
		record := []string{strconv.Itoa(band.Step), formatFloat(band.Mean)}
		for _, p := range keys {
			record = append(record, formatFloat(band.Percentiles[p]))
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteRunFiles writes `<dir>/<product>_paths.csv` (and `_fan.csv` when a
// summary is given) for every product. Returns the written paths.
func WriteRunFiles(dir string, order []contracts.ProductID, prices map[contracts.ProductID]*mat.Dense, summary *risk.Summary) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	var written []string
	writeFile := func(name string, fn func(io.Writer) error) error {
		path := filepath.Join(dir, name)
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
		defer f.Close()
		if err := fn(f); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		written = append(written, path)
		return nil
	}

	for _, id := range order {
		m, ok := prices[id]
		if !ok {
			continue
		}
		if err := writeFile(string(id)+"_paths.csv", func(w io.Writer) error { return WritePaths(w, m) }); err != nil {
			return written, err
		}
		if summary == nil {
			continue
		}
		if pr, ok := summary.Products[id]; ok {
			if err := writeFile(string(id)+"_fan.csv", func(w io.Writer) error { return WriteFan(w, pr) }); err != nil {
				return written, err
			}
		}
	}
	return written, nil
}
