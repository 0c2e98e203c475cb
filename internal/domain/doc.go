// Package domain models the two gridded datasets the pipeline joins:
// ensemble surface-forecast tables and a population-density table.
//
// # Data Sources
//
// Population rows come from a 2020 gridded-population export
// (population_2020.csv): one row per grid cell, columns
// longitude,latitude,population, coordinates in signed degrees [-180, 180).
// Note the column order; the pipeline keys cells by (latitude, longitude),
// so the first two columns are swapped on load.
//
// Forecast rows come from ensemble model summaries, one CSV per model cycle,
// columns forecast_time,latitude,longitude,temp_2m[,temp_2m_stddev].
// Longitudes follow the 0-360 convention of the model's native grid and are
// converted with [SignedLongitude] before any lookup. forecast_time is an
// opaque token: the pipeline never parses it, only carries it through.
//
// # Grid Matching
//
// Both datasets sample the same 0.01-degree grid but disagree in the digits
// past the second decimal, so equality on raw floats never holds. Matching
// works by canonicalization instead: [Quantize] rounds a coordinate to two
// decimals (ties away from zero), and two cells match exactly when their
// quantized (lat, lon) pairs are equal. See [GridKey].
//
// # File Layout
//
// Forecasts for one run date live in a MM-DD-YYYY directory and every file
// in it starts with the MM_DD_YYYY prefix. Derived tables are named by
// prefixing: master_<date>.csv (joined), filtered_master_<date>.csv
// (population > 0), us_master_<date>.csv (clipped to the contiguous US),
// grouped_master_<date>.csv (folded per location).
//
// # Missing Values
//
// An empty measurement field is a real observation state, not a parse
// error: it survives as an empty CSV field in row form and as JSON null
// inside a grouped sample list. A malformed numeric field, by contrast,
// gets the whole row skipped and counted.
package domain
