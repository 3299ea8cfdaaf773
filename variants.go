package ghtraffic

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"sort"
)

//go:embed data
var dataFiles embed.FS

// Variant is one named dataset shipped with this module, together with the
// presentation config the renderer uses for it. Variants share the same
// record shape and loading pipeline; they differ only in data and labels.
// Sibling variants (clones, referrers, ...) plug in here.
type Variant struct {
	Name         string
	Presentation Presentation

	// Caveat documents known data-quality issues in the source data. The
	// literal values are preserved exactly; this is metadata, not a fix.
	Caveat string

	dataFile string
}

var variants = map[string]Variant{
	"views": {
		Name: "views",
		Presentation: Presentation{
			LeftAxisLabel:       "Weekly page views",
			RightAxisLabel:      "Avg. Daily Unique Visitors",
			WeeklyPlotFilename:  "weekly_github_traffic.pdf",
			MonthlyPlotFilename: "monthly_github_traffic.pdf",
			TitleString1:        "Total Pageviews:",
			TitleString2:        "Avg. Daily Unique Visitors:",
		},
		Caveat:   "Some data was probably missed on Monday, Oct. 5, 2015 when GitHub switched to providing only one week of traffic data.",
		dataFile: "data/views.csv",
	},
}

// LookupVariant returns the variant registered under name.
func LookupVariant(name string) (Variant, bool) {
	v, ok := variants[name]
	return v, ok
}

// VariantNames returns the registered variant names, sorted.
func VariantNames() []string {
	names := make([]string, 0, len(variants))
	for name := range variants {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open loads and validates the variant's embedded dataset.
func (v Variant) Open(ctx context.Context) (*Dataset, error) {
	data, err := dataFiles.ReadFile(v.dataFile)
	if err != nil {
		return nil, fmt.Errorf("cannot read embedded dataset for variant %q: %w", v.Name, err)
	}

	dataset, err := ReadDataset(ctx, &TextToRecordReader{Input: NewCsvStringReader(bytes.NewReader(data))})
	if err != nil {
		return nil, fmt.Errorf("variant %q: %w", v.Name, err)
	}

	return dataset, nil
}

// Views loads the "views" variant: daily page views and unique visitors
// for the libMesh GitHub repository, 2014-Feb-17 through 2015-Nov-09.
func Views(ctx context.Context) (Variant, *Dataset, error) {
	v := variants["views"]
	dataset, err := v.Open(ctx)
	return v, dataset, err
}
