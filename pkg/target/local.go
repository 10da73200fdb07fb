package target

// Format selects the serialization for local output.
type Format string

const (
	FormatXML  Format = "xml"
	FormatJSON Format = "json"
	FormatHTML Format = "html"
)

// Local is a filesystem target: inventories are written under a directory,
// or to stdout when the path is "-".
type Local struct {
	*Base

	path   string
	format Format
}

// NewLocal creates a local target.
func NewLocal(path string, format Format, params Params) *Local {
	if format == "" {
		format = FormatXML
	}
	return &Local{
		Base:   newBase(KindLocal, params),
		path:   path,
		format: format,
	}
}

// Path returns the output directory, or "-" for stdout.
func (l *Local) Path() string { return l.path }

// Format returns the configured output format.
func (l *Local) Format() Format { return l.format }

// inventoryTasks lists the task families a local target can plan.
var inventoryTasks = map[string]bool{
	"inventory":       true,
	"remoteinventory": true,
	"esx":             true,
}

// SetPlannedTasks keeps only inventory-family tasks: nothing else can
// produce a file artifact.
func (l *Local) SetPlannedTasks(tasks []string) {
	var kept []string
	for _, task := range tasks {
		if inventoryTasks[task] {
			kept = append(kept, task)
		}
	}
	l.Base.SetPlannedTasks(kept)
}
