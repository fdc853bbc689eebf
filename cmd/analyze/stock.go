package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

func readStockFile(path string) (map[string]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readStock(f)
}

// readStock parses product_id,current_stock lines. A header row is skipped when its second
// column is not a number.
func readStock(r io.Reader) (map[string]int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 2
	cr.TrimLeadingSpace = true
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("stock csv: %w", err)
	}
	out := make(map[string]int, len(rows))
	for i, row := range rows {
		id := strings.TrimSpace(row[0])
		n, err := strconv.Atoi(strings.TrimSpace(row[1]))
		if err != nil {
			if i == 0 {
				continue
			}
			return nil, fmt.Errorf("stock csv line %d: %q is not an integer", i+1, row[1])
		}
		if id == "" {
			return nil, fmt.Errorf("stock csv line %d: empty product id", i+1)
		}
		out[id] = n
	}
	return out, nil
}
