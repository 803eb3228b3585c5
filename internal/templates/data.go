package templates

// Field is one column of a rendered record.
type Field struct {
	Name  string
	Value any
}

// IdentifyData feeds the identify popup.
type IdentifyData struct {
	PopupID     string
	Expression  string
	RecordIndex int // 1-based index of the first record on the page
	Records     [][]Field
	RecordTotal int
	Radius      float64 // meters
	Latitude    float64
	Longitude   float64
}

// ClusterProperty is one aggregate shown in a cluster popup. Class is the
// sanitized key used as a styling hook.
type ClusterProperty struct {
	Key   string
	Class string
	Value any
}

// LegendItem pairs a class break with its hex color (no leading #).
type LegendItem struct {
	Break string
	Color string
}

// LegendData feeds the class-break legend control.
type LegendData struct {
	Title string
	Items []LegendItem
}
