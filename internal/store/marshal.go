package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/harvest/internal/ir"
)

// marshalCells stores a row as canonical JSON.
func marshalCells(cells []string) (string, error) {
	if cells == nil {
		cells = []string{}
	}
	data, err := ir.MarshalCanonical(cells)
	if err != nil {
		return "", fmt.Errorf("marshal cells: %w", err)
	}
	return string(data), nil
}

func unmarshalCells(s string) ([]string, error) {
	var cells []string
	if err := json.Unmarshal([]byte(s), &cells); err != nil {
		return nil, fmt.Errorf("unmarshal cells: %w", err)
	}
	return cells, nil
}

func marshalRows(rows [][]string) (string, error) {
	l := make(ir.List, len(rows))
	for i, r := range rows {
		l[i] = ir.Strings(r...)
	}
	data, err := ir.MarshalCanonical(l)
	if err != nil {
		return "", fmt.Errorf("marshal rows: %w", err)
	}
	return string(data), nil
}

func unmarshalRows(s string) ([][]string, error) {
	rows := [][]string{}
	if err := json.Unmarshal([]byte(s), &rows); err != nil {
		return nil, fmt.Errorf("unmarshal rows: %w", err)
	}
	return rows, nil
}
