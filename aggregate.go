package ghtraffic

import (
	"time"
)

// The renderer plots two aggregate views of the daily data: page views
// summed per calendar week or month, and the average daily unique visitor
// count over the same bucket. The binning happens here; drawing is the
// renderer's job.

// Bucket is one week or month of aggregated traffic. Days records how many
// daily records actually fell into the bucket, so partial leading and
// trailing buckets are visible to the renderer.
type Bucket struct {
	Start             time.Time `json:"start"`
	Days              int       `json:"days"`
	TotalViews        int       `json:"total_views"`
	AvgUniqueVisitors float64   `json:"avg_unique_visitors"`
}

// Summary holds the dataset-wide figures the title strings refer to.
type Summary struct {
	NumRecords          int     `json:"num_records"`
	TotalViews          int     `json:"total_views"`
	TotalUniqueVisitors int     `json:"total_unique_visitors"`
	AvgUniqueVisitors   float64 `json:"avg_unique_visitors"`
	MaxViews            Record  `json:"max_views"`
}

// weekStart returns the Monday of the week containing date.
func weekStart(date time.Time) time.Time {
	offset := (int(date.Weekday()) + 6) % 7
	return date.AddDate(0, 0, -offset)
}

// monthStart returns the first day of the month containing date.
func monthStart(date time.Time) time.Time {
	y, m, _ := date.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

// WeeklyBuckets bins the dataset into calendar weeks starting Monday, in
// chronological order.
func WeeklyBuckets(dataset *Dataset) []Bucket {
	return bucketize(dataset, weekStart)
}

// MonthlyBuckets bins the dataset into calendar months, in chronological
// order.
func MonthlyBuckets(dataset *Dataset) []Bucket {
	return bucketize(dataset, monthStart)
}

func bucketize(dataset *Dataset, startOf func(time.Time) time.Time) []Bucket {
	var buckets []Bucket
	var visitors []int

	flush := func() {
		if len(buckets) == 0 {
			return
		}
		buckets[len(buckets)-1].AvgUniqueVisitors = Mean(visitors)
		visitors = visitors[:0]
	}

	// Records are strictly ordered by date, so bucket membership changes
	// only at bucket boundaries and a single pass suffices.
	for _, record := range dataset.Records() {
		start := startOf(record.Date)

		if len(buckets) == 0 || !buckets[len(buckets)-1].Start.Equal(start) {
			flush()
			buckets = append(buckets, Bucket{Start: start})
		}

		last := &buckets[len(buckets)-1]
		last.Days++
		last.TotalViews += record.Views
		visitors = append(visitors, record.UniqueVisitors)
	}

	flush()
	return buckets
}

// Summarize computes the dataset totals: total page views and the average
// daily unique visitor count across the whole period, plus the record with
// the most views.
func Summarize(dataset *Dataset) Summary {
	summary := Summary{NumRecords: dataset.Len()}

	for _, record := range dataset.Records() {
		summary.TotalViews += record.Views
		summary.TotalUniqueVisitors += record.UniqueVisitors

		if record.Views > summary.MaxViews.Views || summary.MaxViews.Date.IsZero() {
			summary.MaxViews = record
		}
	}

	if summary.NumRecords > 0 {
		summary.AvgUniqueVisitors = float64(summary.TotalUniqueVisitors) / float64(summary.NumRecords)
	}

	return summary
}
