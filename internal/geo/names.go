package geo

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// streetClasses is the vocabulary used to admit OS Open Names records as
// streets. Matched case-insensitively as a substring of the class label.
var streetClasses = []string{
	"road", "street", "lane", "avenue", "drive", "close", "grove",
	"park", "place", "terrace", "square", "court", "crescent",
	"heights", "walk",
}

// IsStreetClass reports whether a dataset class label looks like a street.
func IsStreetClass(class string) bool {
	lower := strings.ToLower(class)
	for _, term := range streetClasses {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}

// LoadStreetPoints streams an OS Open Names CSV and returns the records
// whose class matches the street vocabulary. The file is read row by row;
// records with unparseable coordinates are skipped.
func LoadStreetPoints(csvPath string) ([]Point, error) {
	file, err := os.Open(csvPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open names CSV: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	columnMap := make(map[string]int)
	for i, col := range header {
		columnMap[strings.ToLower(col)] = i
	}
	for _, required := range []string{"name", "class", "latitude", "longitude"} {
		if _, ok := columnMap[required]; !ok {
			return nil, fmt.Errorf("names CSV missing %q column", required)
		}
	}

	var points []Point
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}

		if !IsStreetClass(columnValue(record, columnMap, "class")) {
			continue
		}

		lat, latErr := strconv.ParseFloat(columnValue(record, columnMap, "latitude"), 64)
		lng, lngErr := strconv.ParseFloat(columnValue(record, columnMap, "longitude"), 64)
		if latErr != nil || lngErr != nil {
			continue
		}

		points = append(points, Point{
			Name: columnValue(record, columnMap, "name"),
			Lat:  lat,
			Lng:  lng,
		})
	}

	return points, nil
}

func columnValue(record []string, columnMap map[string]int, columnName string) string {
	if idx, exists := columnMap[columnName]; exists && idx < len(record) {
		return strings.TrimSpace(record[idx])
	}
	return ""
}
