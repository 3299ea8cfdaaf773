package ghtraffic

// Presentation carries the labels and output filenames the external
// renderer needs to turn a dataset into its weekly and monthly chart
// artifacts. The filenames are passed through as-is; this module never
// writes them.
type Presentation struct {
	LeftAxisLabel       string `json:"left_axis_label"`
	RightAxisLabel      string `json:"right_axis_label"`
	WeeklyPlotFilename  string `json:"weekly_plot_filename"`
	MonthlyPlotFilename string `json:"monthly_plot_filename"`
	TitleString1        string `json:"title_string1"`
	TitleString2        string `json:"title_string2"`
}

// Metadata is what /metadata serves: the variant name, its presentation
// config and a short description of the loaded dataset.
type Metadata struct {
	Variant      string       `json:"variant"`
	Presentation Presentation `json:"presentation"`
	NumRecords   int          `json:"num_records"`
	FirstDate    string       `json:"first_date"`
	LastDate     string       `json:"last_date"`
	Caveat       string       `json:"caveat,omitempty"`
}

// NewMetadata describes a loaded dataset under the given variant.
func NewMetadata(variant Variant, dataset *Dataset) Metadata {
	metadata := Metadata{
		Variant:      variant.Name,
		Presentation: variant.Presentation,
		NumRecords:   dataset.Len(),
		Caveat:       variant.Caveat,
	}

	if dataset.Len() > 0 {
		metadata.FirstDate = dataset.First().Date.Format(DateLayout)
		metadata.LastDate = dataset.Last().Date.Format(DateLayout)
	}

	return metadata
}
