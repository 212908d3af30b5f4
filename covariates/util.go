package covariates

import (
	"fmt"
	"strconv"
	"strings"
)

func parseFloat64(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty string")
	}
	// Raster extractions export nodata as NA or NaN; both are rejected here
	// so a bad extraction fails the load instead of training on zeros.
	switch strings.ToLower(s) {
	case "na", "nan", "null":
		return 0, fmt.Errorf("missing value %q", s)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return v, nil
}
