package core

// CategoryAmount represents an amount aggregated by category name.
type CategoryAmount struct {
	Name   string
	Amount Money
}

// Bucket is one fixed calendar slot of a chart series. Buckets with no
// matching expenses carry a zero Total.
type Bucket struct {
	Label string
	From  Date // first day covered, inclusive
	To    Date // last day covered, inclusive
	Total Money
}
