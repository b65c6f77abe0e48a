package resolver

// Kind is a resolvable resource.
type Kind string

const (
	KindPriceSeries Kind = "price_series"
	KindOverview    Kind = "overview"
)

func PriceSeriesKey(symbol string) string { return "stock_data_" + symbol }
func OverviewKey(symbol string) string    { return "stock_overview_" + symbol }
func CompanyNameKey(symbol string) string { return "company_name_" + symbol }
func SearchKey(query string) string       { return "stock_search_" + query }
