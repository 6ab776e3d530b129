package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifySelectivity(t *testing.T) {
	tests := []struct {
		name     string
		distinct int64
		rows     int64
		want     Selectivity
	}{
		{"all unique", 1000, 1000, SelectivityHigh},
		{"near unique threshold (90%)", 900, 1000, SelectivityHigh},
		{"many repeats (50%)", 500, 1000, SelectivityMedium},
		{"few values (20 distinct)", 20, 1000, SelectivityLow},
		{"just above few (21 distinct)", 21, 1000, SelectivityMedium},
		{"boolean", 2, 100000, SelectivityLow},
		{"no rows", 10, 0, ""},
		{"no stats", 0, 1000, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifySelectivity(tt.distinct, tt.rows))
		})
	}
}

func TestDistinctToAbsolute(t *testing.T) {
	tests := []struct {
		name      string
		nDistinct float64
		rows      int64
		want      int64
	}{
		{"absolute count", 42, 1000, 42},
		{"all unique", -1, 5000, 5000},
		{"fraction", -0.25, 1000, 250},
		{"rounds", 3.6, 1000, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DistinctToAbsolute(tt.nDistinct, tt.rows))
		})
	}
}
