package main

import (
	"strings"
	"testing"
)

func TestReadStock(t *testing.T) {
	got, err := readStock(strings.NewReader("product_id,current_stock\nSKU1,0\nSKU2, 15\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got["SKU1"] != 0 || got["SKU2"] != 15 {
		t.Fatalf("unexpected stock: %v", got)
	}
}

func TestReadStockErrors(t *testing.T) {
	for name, in := range map[string]string{
		"bad number": "SKU1,0\nSKU2,lots\n",
		"short row":  "SKU1\n",
		"empty id":   "SKU1,1\n,2\n",
	} {
		if _, err := readStock(strings.NewReader(in)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}
