// Package core defines core types.
package core

// LabelTable maps exact OID strings to human-readable varbind names.
// It is built once at startup and only read afterwards.
type LabelTable struct {
	labels map[string]string
}

// Platform event trap arcs (enterprise 3183) that get readable names.
const platformEventPrefix = "1.3.6.1.4.1.3183.1.1."

var builtinLabels = map[string]string{
	platformEventPrefix + "1": "Event Source",
	platformEventPrefix + "2": "Event Severity",
	platformEventPrefix + "3": "Sensor Type",
	platformEventPrefix + "4": "Sensor Number",
	platformEventPrefix + "5": "Entity",
	platformEventPrefix + "6": "Event Data",
}

// NewLabelTable returns the built-in labels merged with extra.
// Entries in extra override built-ins with the same OID.
func NewLabelTable(extra map[string]string) LabelTable {
	m := make(map[string]string, len(builtinLabels)+len(extra))
	for oid, name := range builtinLabels {
		m[oid] = name
	}
	for oid, name := range extra {
		if oid == "" || name == "" {
			continue
		}
		m[oid] = name
	}
	return LabelTable{labels: m}
}

// Lookup returns the label for oid, if any.
func (t LabelTable) Lookup(oid string) (string, bool) {
	name, ok := t.labels[oid]
	return name, ok
}

// Name returns the label for oid, or oid itself.
func (t LabelTable) Name(oid string) string {
	if name, ok := t.labels[oid]; ok {
		return name
	}
	return oid
}

// Len returns the number of labelled OIDs.
func (t LabelTable) Len() int {
	return len(t.labels)
}
